package proxy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisalpuerto/parallel-sessions/pkg/browser"
	apperrors "github.com/chrisalpuerto/parallel-sessions/pkg/errors"
)

func TestParseProxy(t *testing.T) {
	tests := []struct {
		in      string
		want    browser.Proxy
		wantErr bool
	}{
		{in: "10.0.0.1:8080", want: browser.Proxy{Server: "http://10.0.0.1:8080"}},
		{in: "10.0.0.1:8080:bob:s3cret", want: browser.Proxy{Server: "http://10.0.0.1:8080", Username: "bob", Password: "s3cret"}},
		{in: "socks5://alice:pw@proxy.example.com:1080", want: browser.Proxy{Server: "socks5://proxy.example.com:1080", Username: "alice", Password: "pw"}},
		{in: "10.0.0.1", wantErr: true},
		{in: "10.0.0.1:8080:bob", wantErr: true},
		{in: "http://proxy.example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProxy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLinesSkipsComments(t *testing.T) {
	input := "# pool\n\n10.0.0.1:8080\n  10.0.0.2:8080:u:p  \n"
	got, err := ParseLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u", got[1].Username)

	_, err = ParseLines(strings.NewReader("10.0.0.1:8080\nbogus\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseYAML(t *testing.T) {
	doc := `
proxies:
  - 10.0.0.1:8080
  - server: http://10.0.0.2:3128
    username: carol
    password: pw
`
	got, err := ParseYAML([]byte(doc))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "http://10.0.0.2:3128", got[1].Server)
	assert.Equal(t, "carol", got[1].Username)

	got, err = ParseYAML([]byte("- 10.0.0.9:80\n"))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = ParseYAML([]byte("- server: ''\n"))
	assert.Error(t, err)
}

func TestSampleWithoutReplacement(t *testing.T) {
	var proxies []browser.Proxy
	for i := 0; i < 10; i++ {
		px, err := ParseProxy("10.0.0." + string(rune('0'+i)) + ":8080")
		require.NoError(t, err)
		proxies = append(proxies, px)
	}
	pool := New(proxies...)

	for round := 0; round < 20; round++ {
		got, err := pool.Sample(10)
		require.NoError(t, err)
		seen := make(map[string]bool)
		for _, px := range got {
			assert.False(t, seen[px.Server], "duplicate %s", px.Server)
			seen[px.Server] = true
		}
	}
	assert.Equal(t, 10, pool.Len())
}

func TestSampleExhausted(t *testing.T) {
	pool := New(browser.Proxy{Server: "http://a:1"}, browser.Proxy{Server: "http://b:1"})
	_, err := pool.Sample(3)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProxyPoolExhausted))

	got, err := pool.Sample(0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "10.0.0.1:8080", Identity(&browser.Proxy{Server: "http://10.0.0.1:8080"}))
	assert.Equal(t, "", Identity(nil))
}

func TestLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.1:8080\n"), 0o644))

	pool, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Watch(ctx, nil) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.1:8080\n10.0.0.2:8080\n10.0.0.3:8080\n"), 0o644))

	require.Eventually(t, func() bool { return pool.Len() == 3 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigLoad))
}
