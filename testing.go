package oscring

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-oscring/oscring/internal/interfaces"
)

// MockCodec is a trivial Codec for testing: Encode/Decode round-trip a
// string address with no real OSC type-tag parsing, and
// ExtractBundleMessages always returns an error. It tracks call
// counts for verification, mirroring the teacher's MockBackend shape.
type MockCodec struct {
	mu           sync.Mutex
	encodeCalls  int
	decodeCalls  int
	extractCalls int

	EncodeErr error // if set, Encode returns this error
	DecodeErr error // if set, Decode returns this error
}

// NewMockCodec returns a ready-to-use MockCodec.
func NewMockCodec() *MockCodec {
	return &MockCodec{}
}

func (c *MockCodec) Encode(address string, args []any) ([]byte, error) {
	c.mu.Lock()
	c.encodeCalls++
	err := c.EncodeErr
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s\x00%v", address, args)), nil
}

func (c *MockCodec) Decode(payload []byte) (string, []any, error) {
	c.mu.Lock()
	c.decodeCalls++
	err := c.DecodeErr
	c.mu.Unlock()

	if err != nil {
		return "", nil, err
	}

	for i, b := range payload {
		if b == 0 {
			return string(payload[:i]), nil, nil
		}
	}
	return string(payload), nil, nil
}

func (c *MockCodec) ExtractBundleMessages(bundle []byte) ([][]byte, error) {
	c.mu.Lock()
	c.extractCalls++
	c.mu.Unlock()
	return nil, fmt.Errorf("oscring: MockCodec.ExtractBundleMessages not configured")
}

// CallCounts reports how many times each method was invoked.
func (c *MockCodec) CallCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int{
		"encode":  c.encodeCalls,
		"decode":  c.decodeCalls,
		"extract": c.extractCalls,
	}
}

// Reset zeroes every call counter.
func (c *MockCodec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encodeCalls, c.decodeCalls, c.extractCalls = 0, 0, 0
}

// MockClock is a Clock whose Now() is set explicitly by the test, rather
// than tracking the wall clock. It is the standard way tests exercise the
// pre-scheduler's near/far-future and late classification without
// sleeping in real time.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock returns a MockClock fixed at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var (
	_ interfaces.Codec  = (*MockCodec)(nil)
	_ interfaces.Clock  = (*MockClock)(nil)
)
