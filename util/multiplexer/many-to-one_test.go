package multiplexer

import (
	"errors"
	"testing"
	"time"
)

func TestManyToOneDelivers(t *testing.T) {
	receiver := make(chan int, 1)
	m := NewManyToOne(receiver)

	if err := m.Send(42); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got := <-receiver; got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestManyToOneSendAfterClose(t *testing.T) {
	m := NewManyToOne(make(chan int))
	m.Close()
	m.Close()

	if err := m.Send(1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestManyToOneCloseReleasesBlockedSender(t *testing.T) {
	m := NewManyToOne(make(chan int))

	errc := make(chan error, 1)
	go func() {
		errc <- m.Send(7)
	}()

	// Give the sender a moment to block on the unbuffered channel.
	time.Sleep(10 * time.Millisecond)
	m.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sender still blocked after close")
	}
}

func TestManyToOneDoneSignals(t *testing.T) {
	m := NewManyToOne(make(chan string))
	select {
	case <-m.Done():
		t.Fatal("done fired before close")
	default:
	}
	m.Close()
	select {
	case <-m.Done():
	default:
		t.Fatal("done did not fire after close")
	}
}
