package util

import (
	"encoding/json"
	"fmt"
)

// EncoderDecoder converts stored records of type T to and from their wire form.
type EncoderDecoder[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
	DecodeString(data string) (*T, error)
}

type JsonEncDec[T any] struct{}

var _ EncoderDecoder[any] = new(JsonEncDec[any])

func NewJsonEncoderDecoder[T any]() *JsonEncDec[T] {
	return &JsonEncDec[T]{}
}

func (encdec *JsonEncDec[T]) Encode(value T) ([]byte, error) {
	res, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", value, err)
	}
	return res, nil
}

// Decode rejects empty input so a missing record is never mistaken for a zero value.
func (encdec *JsonEncDec[T]) Decode(data []byte) (*T, error) {
	var res T
	if len(data) == 0 {
		return nil, fmt.Errorf("decoding %T: empty input", res)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding %T: %w", res, err)
	}
	return &res, nil
}

func (encdec *JsonEncDec[T]) DecodeString(data string) (*T, error) {
	return encdec.Decode([]byte(data))
}
