package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomCodeShape(t *testing.T) {
	for i := 0; i < 500; i++ {
		code := NewRoomCode()
		assert.True(t, ValidRoomCode(code), "bad code %q", code)
	}
}

func TestValidRoomCode(t *testing.T) {
	assert.True(t, ValidRoomCode("000042"))
	assert.True(t, ValidRoomCode("999999"))
	assert.False(t, ValidRoomCode("42"))
	assert.False(t, ValidRoomCode("1234567"))
	assert.False(t, ValidRoomCode("12a456"))
	assert.False(t, ValidRoomCode(""))
}

func TestModeValid(t *testing.T) {
	assert.True(t, ModeTurnBased.Valid())
	assert.True(t, ModeSimultaneous.Valid())
	assert.False(t, Mode("freeForAll").Valid())
	assert.False(t, Mode("").Valid())
}

func TestSeen(t *testing.T) {
	s := NewSeen()
	assert.True(t, s.First("a"))
	assert.True(t, s.First("b"))
	assert.False(t, s.First("a"))
	assert.False(t, s.First("b"))
}

func TestMailboxRunsInOrder(t *testing.T) {
	m := NewMailbox()
	defer m.Close()

	got := make(chan int, 100)
	for i := 0; i < 100; i++ {
		m.Post(func() { got <- i })
	}
	for want := 0; want < 100; want++ {
		select {
		case v := <-got:
			require.Equal(t, want, v)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestMailboxPostAfterClose(t *testing.T) {
	m := NewMailbox()
	m.Close()
	m.Close()

	ran := make(chan struct{}, 1)
	m.Post(func() { ran <- struct{}{} })
	select {
	case <-ran:
		t.Fatal("callback ran after close")
	case <-time.After(50 * time.Millisecond):
	}
}
