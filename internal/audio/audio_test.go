package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

// gatedPlayer records clips and finishes each one when the test releases it.
type gatedPlayer struct {
	mu      sync.Mutex
	played  []string
	started chan string
	release chan struct{}
	failOn  string
}

func newGatedPlayer() *gatedPlayer {
	return &gatedPlayer{started: make(chan string, 16), release: make(chan struct{})}
}

func (p *gatedPlayer) Play(ctx context.Context, clip string) error {
	p.mu.Lock()
	p.played = append(p.played, clip)
	p.mu.Unlock()
	p.started <- clip
	if clip == p.failOn {
		return errors.New("decode error")
	}
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *gatedPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

type instantPlayer struct {
	mu     sync.Mutex
	played []string
}

func (p *instantPlayer) Play(_ context.Context, clip string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, clip)
	return nil
}

func waitStarted(t *testing.T, p *gatedPlayer, want string) {
	t.Helper()
	select {
	case got := <-p.started:
		if got != want {
			t.Fatalf("started %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("clip %q never started", want)
	}
}

func TestSequencerPlaysInOrderAndSkipsUncached(t *testing.T) {
	player := &instantPlayer{}
	seq := NewSequencer(player, NewCatalog("ding.mp3", "4.mp3"))
	if err := seq.Play(context.Background(), []string{"ding.mp3", "4.mp3", "clinic9.mp3"}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if want := []string{"ding.mp3", "4.mp3"}; !reflect.DeepEqual(player.played, want) {
		t.Fatalf("played %v, want %v", player.played, want)
	}
}

func TestSequencerAwaitsEachClip(t *testing.T) {
	player := newGatedPlayer()
	seq := NewSequencer(player, NewCatalog(DefaultClips()...))
	done := make(chan error, 1)
	go func() { done <- seq.Play(context.Background(), []string{"ding.mp3", "4.mp3"}) }()

	waitStarted(t, player, "ding.mp3")
	select {
	case clip := <-player.started:
		t.Fatalf("%q started before ding ended", clip)
	case <-time.After(20 * time.Millisecond):
	}
	player.release <- struct{}{}
	waitStarted(t, player, "4.mp3")
	player.release <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("play: %v", err)
	}
}

func TestSequencerContinuesAfterFailedClip(t *testing.T) {
	player := newGatedPlayer()
	player.failOn = "ding.mp3"
	seq := NewSequencer(player, NewCatalog(DefaultClips()...))
	done := make(chan error, 1)
	go func() { done <- seq.Play(context.Background(), []string{"ding.mp3", "7.mp3"}) }()
	waitStarted(t, player, "ding.mp3")
	waitStarted(t, player, "7.mp3")
	player.release <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("play: %v", err)
	}
}

func TestSequencerPreempts(t *testing.T) {
	player := newGatedPlayer()
	seq := NewSequencer(player, NewCatalog(DefaultClips()...))

	first := make(chan error, 1)
	go func() { first <- seq.Play(context.Background(), []string{"ding.mp3", "4.mp3", "clinic1.mp3"}) }()
	waitStarted(t, player, "ding.mp3")

	second := make(chan error, 1)
	go func() { second <- seq.Play(context.Background(), []string{"ding.mp3", "5.mp3"}) }()

	if err := <-first; !errors.Is(err, ErrPreempted) {
		t.Fatalf("first sequence: expected ErrPreempted, got %v", err)
	}
	waitStarted(t, player, "ding.mp3")
	player.release <- struct{}{}
	waitStarted(t, player, "5.mp3")
	player.release <- struct{}{}
	if err := <-second; err != nil {
		t.Fatalf("second sequence: %v", err)
	}
	if want := []string{"ding.mp3", "ding.mp3", "5.mp3"}; !reflect.DeepEqual(player.Played(), want) {
		t.Fatalf("played %v, want %v", player.Played(), want)
	}
}

func TestSequencerCancel(t *testing.T) {
	player := newGatedPlayer()
	seq := NewSequencer(player, NewCatalog(DefaultClips()...))
	done := make(chan error, 1)
	go func() { done <- seq.Play(context.Background(), []string{"ding.mp3", "4.mp3"}) }()
	waitStarted(t, player, "ding.mp3")

	seq.Cancel()
	if err := <-done; !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if seq.Busy() {
		t.Fatalf("sequencer still busy after cancel")
	}
	if len(player.Played()) != 1 {
		t.Fatalf("pending clips played after cancel: %v", player.Played())
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ding.mp3", "12.mp3", "clinic3.mp3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	c, err := LoadCatalog(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := []string{"12.mp3", "clinic3.mp3", "ding.mp3"}; !reflect.DeepEqual(c.Clips(), want) {
		t.Fatalf("clips %v, want %v", c.Clips(), want)
	}
	if path, ok := c.Path("ding.mp3"); !ok || path != filepath.Join(dir, "ding.mp3") {
		t.Fatalf("path = %q, %v", path, ok)
	}
	if _, ok := c.Path("notes.txt"); ok {
		t.Fatalf("non-catalog file exposed")
	}

	missing, err := LoadCatalog(filepath.Join(dir, "nope"))
	if err != nil || len(missing.Clips()) != 0 {
		t.Fatalf("missing dir: %v, %v", missing.Clips(), err)
	}
}

func TestDefaultClips(t *testing.T) {
	clips := DefaultClips()
	if len(clips) != 1+200+20+10 {
		t.Fatalf("default catalog has %d clips", len(clips))
	}
}
