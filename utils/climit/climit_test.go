package climit

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestConcurrencyLimit(t *testing.T) {
	cl := New("test", 2, nil)
	event := make(chan struct{})

	var count atomic.Int32

	var t1, t2, t4, t8 *Token
	go func() {
		t1 = cl.Acquire()
		count.Add(1)
		event <- struct{}{}
		t2 = cl.Acquire()
		count.Add(2)
		event <- struct{}{}
		t4 = cl.Acquire()
		count.Add(4)
		event <- struct{}{}
		t8 = cl.Acquire()
		count.Add(8)
		event <- struct{}{}
	}()

	<-event
	<-event
	assert.Equal(t, int32(3), count.Load())
	time.Sleep(10 * time.Millisecond)
	select {
	case <-event:
		t.Fatal("unexpected event")
	default:
		// OK
	}

	// Release a token
	t2.Release()
	<-event
	assert.Equal(t, int32(7), count.Load())

	// Release the same again, nothing happens
	t2.Release()
	time.Sleep(10 * time.Millisecond)
	select {
	case <-event:
		t.Fatal("unexpected event")
	default:
		// OK
	}
	assert.Equal(t, int32(7), count.Load())

	// Release another for the last increment
	t1.Release()
	<-event
	assert.Equal(t, int32(15), count.Load())

	t4.Release()
	t8.Release()
}

func TestTryAcquire(t *testing.T) {
	cl := New("test-try", 2, nil)
	rejected := testutil.ToFloat64(metricRejectedTotal.WithLabelValues("test-try"))

	t1 := cl.TryAcquire()
	t2 := cl.TryAcquire()
	require.NotNil(t, t1)
	require.NotNil(t, t2)
	assert.Equal(t, 2, cl.Active())

	assert.Nil(t, cl.TryAcquire())
	assert.Equal(t, rejected+1, testutil.ToFloat64(metricRejectedTotal.WithLabelValues("test-try")))

	t1.Release()
	assert.Equal(t, 1, cl.Active())
	t3 := cl.TryAcquire()
	require.NotNil(t, t3)

	t2.Release()
	t3.Release()
	assert.Equal(t, 0, cl.Active())
}

func TestMinimumLimit(t *testing.T) {
	cl := New("test-min", 0, nil)
	assert.Equal(t, 1, cl.Limit())
}
