package tokenwatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fruitsalade/projectsync/pkg/client"
)

func TestWatcher_ReportsNewToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := client.SaveToken(path, &client.TokenFile{Token: "old"}); err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 4)
	w := &Watcher{
		Path:     path,
		Debounce: 10 * time.Millisecond,
		OnChange: func(ctx context.Context, tf *client.TokenFile) { got <- tf.Token },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	// Rewriting the same token is not a change.
	client.SaveToken(path, &client.TokenFile{Token: "old"})
	client.SaveToken(path, &client.TokenFile{Token: "new"})

	select {
	case tok := <-got:
		if tok != "new" {
			t.Fatalf("expected new token, got %s", tok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for token change")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
