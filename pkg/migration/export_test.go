package migration

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FakeInfoStore is an in-memory InfoStore that counts version reads.
type FakeInfoStore struct {
	mu       sync.Mutex
	versions map[string]int
	codes    map[string]int
	messages map[string]string

	versionReads   int
	failSetVersion bool
}

func NewFakeInfoStore() *FakeInfoStore {
	return &FakeInfoStore{
		versions: make(map[string]int),
		codes:    make(map[string]int),
		messages: make(map[string]string),
	}
}

var errFakeWrite = errors.New("fake store write failed")

func (s *FakeInfoStore) Version(_ context.Context, plugin string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versionReads++
	return s.versions[plugin], nil
}

func (s *FakeInfoStore) SetVersion(_ context.Context, plugin string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetVersion {
		return errFakeWrite
	}
	s.versions[plugin] = version
	return nil
}

func (s *FakeInfoStore) StatusCode(_ context.Context, plugin string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[plugin], nil
}

func (s *FakeInfoStore) SetStatusCode(_ context.Context, plugin string, code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[plugin] = code
	return nil
}

func (s *FakeInfoStore) StatusMessage(_ context.Context, plugin string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[plugin], nil
}

func (s *FakeInfoStore) SetStatusMessage(_ context.Context, plugin string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[plugin] = message
	return nil
}

// VersionReads returns how many times Version was called.
func (s *FakeInfoStore) VersionReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionReads
}

// FailSetVersion makes every following SetVersion call fail.
func (s *FakeInfoStore) FailSetVersion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSetVersion = true
}

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
