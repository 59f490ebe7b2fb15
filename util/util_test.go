package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveParams(t *testing.T) {
	data := map[string]any{
		"Media":    map[string]any{"video": map[string]any{"url": "s3://in.mp4", "width": 1280}},
		"MetaData": map[string]any{"title": "trailer"},
	}
	params := map[string]any{
		"source":  "{$.Media.video.url}",
		"width":   "{$.Media.video.width}",
		"label":   "{$.MetaData.title}-{$.Media.video.width}",
		"missing": "{$.MetaData.absent}",
		"plain":   "no tokens",
		"list":    []any{"{$.MetaData.title}", 3},
		"nested":  map[string]any{"url": "{$.Media.video.url}"},
		"count":   2,
	}
	out := ResolveParams(data, params)
	require.Equal(t, "s3://in.mp4", out["source"])
	require.Equal(t, 1280, out["width"])
	require.Equal(t, "trailer-1280", out["label"])
	require.Equal(t, "{$.MetaData.absent}", out["missing"])
	require.Equal(t, "no tokens", out["plain"])
	require.Equal(t, []any{"trailer", 3}, out["list"])
	require.Equal(t, map[string]any{"url": "s3://in.mp4"}, out["nested"])
	require.Equal(t, 2, out["count"])
	require.Equal(t, "{$.Media.video.url}", params["source"])
}

func TestJsonEncoderDecoder(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	encDec := NewJsonEncoderDecoder[payload]()
	data, err := encDec.Encode(payload{Name: "probe"})
	require.NoError(t, err)
	decoded, err := encDec.DecodeString(string(data))
	require.NoError(t, err)
	require.Equal(t, "probe", decoded.Name)
	_, err = encDec.Decode([]byte("{"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decoding util.payload")
	_, err = encDec.DecodeString("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty input")
}

func TestSliceHelpers(t *testing.T) {
	require.True(t, Contains([]string{"probe", "thumbnail"}, "thumbnail"))
	require.False(t, Contains([]string{"probe"}, "transcode"))
	require.False(t, Contains(nil, 1))

	partitions := []int{0, 1, 2, 3, 4, 5, 6, 7}
	Shuffle(partitions)
	require.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, partitions)
}

func TestTickWorkerTrigger(t *testing.T) {
	var calls int32
	wg := &sync.WaitGroup{}
	tw := NewTickWorker("test", time.Hour, make(chan struct{}), func() { atomic.AddInt32(&calls, 1) }, wg)
	tw.Start()
	require.True(t, tw.IsRunning())
	tw.Trigger()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	tw.Stop()
	wg.Wait()
	require.False(t, tw.IsRunning())
}

func TestWorker(t *testing.T) {
	var sum int64
	wg := &sync.WaitGroup{}
	done := make(chan struct{}, 10)
	w := NewWorker("test", wg, func(task Task) error {
		atomic.AddInt64(&sum, int64(task.(int)))
		done <- struct{}{}
		return nil
	}, 10, 3)
	w.Start()
	for i := 1; i <= 10; i++ {
		w.Sender() <- i
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	w.Stop()
	wg.Wait()
	require.Equal(t, int64(55), atomic.LoadInt64(&sum))
}
