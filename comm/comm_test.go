package comm

import (
	"bytes"
	"sync"
	"testing"
)

func TestSingle(t *testing.T) {
	t.Parallel()
	c := NewSingle()
	if c.Rank() != 0 || c.Size() != 1 {
		t.Fatalf("%d %d", c.Rank(), c.Size())
	}

	send := []float64{1, 2, 3}
	recv := make([]float64, 3)
	if err := c.Gather(send, recv, 0); err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range send {
		if recv[i] != send[i] {
			t.Fatalf("%v, expected %v", recv, send)
		}
	}

	if err := c.Send([]byte("abc"), 0, 7); err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := c.Recv(0, 7)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !bytes.Equal(b, []byte("abc")) {
		t.Fatalf("%s, expected %s", b, "abc")
	}
	if _, err := c.Recv(0, 7); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLocalGather(t *testing.T) {
	t.Parallel()
	cs := NewLocal(3)
	recv := make([]float64, 6)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for rank, c := range cs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			send := []float64{float64(rank), float64(10 * rank)}
			errs[rank] = c.Gather(send, recv, 0)
		}()
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("%d %+v", rank, err)
		}
	}

	want := []float64{0, 0, 1, 10, 2, 20}
	for i := range want {
		if recv[i] != want[i] {
			t.Fatalf("%v, expected %v", recv, want)
		}
	}
}

func TestLocalBcast(t *testing.T) {
	t.Parallel()
	cs := NewLocal(3)
	bufs := make([][]int, 3)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for rank, c := range cs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]int, 3)
			if rank == 0 {
				copy(buf, []int{4, 5, 6})
			}
			errs[rank] = c.Bcast(buf, 0)
			bufs[rank] = buf
		}()
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("%d %+v", rank, err)
		}
	}

	for rank, buf := range bufs {
		for i, want := range []int{4, 5, 6} {
			if buf[i] != want {
				t.Fatalf("%d %v, expected %v", rank, buf, []int{4, 5, 6})
			}
		}
	}
}

func TestLocalReduce(t *testing.T) {
	t.Parallel()
	cs := NewLocal(4)
	recv := make([]float64, 2)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for rank, c := range cs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[rank] = c.Reduce([]float64{1, float64(rank)}, recv, 0)
		}()
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("%d %+v", rank, err)
		}
	}

	if recv[0] != 4 || recv[1] != 6 {
		t.Fatalf("%v, expected %v", recv, []float64{4, 6})
	}
}

func TestLocalSendRecv(t *testing.T) {
	t.Parallel()
	cs := NewLocal(2)

	var wg sync.WaitGroup
	var got []byte
	var sendErr, recvErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = cs[0].Send([]byte("walker"), 1, 3)
	}()
	go func() {
		defer wg.Done()
		got, recvErr = cs[1].Recv(0, 3)
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("%+v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("%+v", recvErr)
	}
	if !bytes.Equal(got, []byte("walker")) {
		t.Fatalf("%s, expected %s", got, "walker")
	}
}

func TestLocalBarrier(t *testing.T) {
	t.Parallel()
	cs := NewLocal(3)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for rank, c := range cs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iter := 0; iter < 10; iter++ {
				if err := c.Barrier(); err != nil {
					errs[rank] = err
					return
				}
			}
		}()
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("%d %+v", rank, err)
		}
	}
}
