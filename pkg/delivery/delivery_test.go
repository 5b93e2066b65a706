package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

type recordingChannel struct {
	calls [][2]string
	err   error
}

func (r *recordingChannel) Deliver(ctx context.Context, localPath, remotePath string) error {
	r.calls = append(r.calls, [2]string{localPath, remotePath})
	return r.err
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "updates-2024-01-01.mrc")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDispatcher_Deliver(t *testing.T) {
	discovery := &recordingChannel{}
	enrichment := &recordingChannel{}

	d := NewDispatcher(zerolog.Nop())
	d.Register("discovery", discovery)
	d.Register("enrichment", enrichment)

	if err := d.Deliver(context.Background(), "discovery", "/out/a.mrc", "updates/a.mrc"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if len(discovery.calls) != 1 || discovery.calls[0] != [2]string{"/out/a.mrc", "updates/a.mrc"} {
		t.Errorf("discovery calls = %v", discovery.calls)
	}
	if len(enrichment.calls) != 0 {
		t.Errorf("enrichment calls = %v, want none", enrichment.calls)
	}
	if got := d.Channels(); len(got) != 2 || got[0] != "discovery" || got[1] != "enrichment" {
		t.Errorf("Channels() = %v", got)
	}
}

func TestDispatcher_UnknownChannel(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	err := d.Deliver(context.Background(), "nowhere", "a", "b")
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("error = %v, want ErrUnknownChannel", err)
	}
}

func TestDispatcher_ChannelErrorIsNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	ch := &recordingChannel{err: boom}
	d := NewDispatcher(zerolog.Nop())
	d.Register("discovery", ch)

	err := d.Deliver(context.Background(), "discovery", "a", "b")
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped channel error", err)
	}
	if len(ch.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(ch.calls))
	}
}

type fakeFTP struct {
	user, password string
	stored         map[string][]byte
	loginErr       error
	storErr        error
	quit           bool
}

func (f *fakeFTP) Login(user, password string) error {
	f.user, f.password = user, password
	return f.loginErr
}

func (f *fakeFTP) Stor(path string, r io.Reader) error {
	if f.storErr != nil {
		return f.storErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.stored[path] = b
	return nil
}

func (f *fakeFTP) Quit() error {
	f.quit = true
	return nil
}

func withFakeFTP(t *testing.T, f *fakeFTP) *string {
	t.Helper()
	var dialed string
	old := dialFTP
	dialFTP = func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
		dialed = addr
		return f, nil
	}
	t.Cleanup(func() { dialFTP = old })
	return &dialed
}

func TestFTPChannel_Deliver(t *testing.T) {
	fake := &fakeFTP{stored: make(map[string][]byte)}
	dialed := withFakeFTP(t, fake)

	ch, err := NewFTPChannel(FTPConfig{Host: "ftp.example.org", User: "lib", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	local := writeArtifact(t, "MARCDATA")

	if err := ch.Deliver(context.Background(), local, "updates/updates-2024-01-01.mrc"); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if *dialed != "ftp.example.org:21" {
		t.Errorf("dialed %q, want ftp.example.org:21", *dialed)
	}
	if fake.user != "lib" || fake.password != "pw" {
		t.Errorf("login = %q/%q", fake.user, fake.password)
	}
	if got := fake.stored["updates/updates-2024-01-01.mrc"]; !bytes.Equal(got, []byte("MARCDATA")) {
		t.Errorf("stored = %q", got)
	}
	if !fake.quit {
		t.Error("session was not closed")
	}
}

func TestFTPChannel_Errors(t *testing.T) {
	t.Run("login rejected", func(t *testing.T) {
		fake := &fakeFTP{stored: make(map[string][]byte), loginErr: errors.New("530 Login incorrect")}
		withFakeFTP(t, fake)
		ch, _ := NewFTPChannel(FTPConfig{Host: "h:2121"})

		if err := ch.Deliver(context.Background(), writeArtifact(t, "x"), "x.mrc"); err == nil {
			t.Fatal("expected login error")
		}
		if !fake.quit {
			t.Error("session was not closed after failed login")
		}
	})

	t.Run("missing local file", func(t *testing.T) {
		withFakeFTP(t, &fakeFTP{stored: make(map[string][]byte)})
		ch, _ := NewFTPChannel(FTPConfig{Host: "h"})

		err := ch.Deliver(context.Background(), filepath.Join(t.TempDir(), "missing.mrc"), "x.mrc")
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("error = %v, want os.ErrNotExist", err)
		}
	})

	t.Run("host required", func(t *testing.T) {
		if _, err := NewFTPChannel(FTPConfig{}); err == nil {
			t.Error("expected error for empty host")
		}
	})
}

func TestFTPChannel_Address(t *testing.T) {
	tests := map[string]string{
		"ftp.example.org":      "ftp.example.org:21",
		"ftp.example.org:2121": "ftp.example.org:2121",
		"10.0.0.5":             "10.0.0.5:21",
	}
	for host, want := range tests {
		ch, _ := NewFTPChannel(FTPConfig{Host: host})
		if got := ch.Address(); got != want {
			t.Errorf("Address(%q) = %q, want %q", host, got, want)
		}
	}
}

type fakeS3 struct {
	putLastBucket string
	putLastKey    string
	putLastBody   []byte
	putLastLength int64
	putErr        error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.putLastBucket = aws.ToString(in.Bucket)
	f.putLastKey = aws.ToString(in.Key)
	f.putLastLength = aws.ToInt64(in.ContentLength)
	if in.Body != nil {
		b, _ := io.ReadAll(in.Body)
		f.putLastBody = b
	}
	return &s3.PutObjectOutput{}, nil
}

func withFakeS3(t *testing.T, f *fakeS3) {
	t.Helper()
	old := newS3Client
	newS3Client = func(ctx context.Context, cfg S3Config) (s3API, error) { return f, nil }
	t.Cleanup(func() { newS3Client = old })
}

func TestS3Channel_Deliver(t *testing.T) {
	tests := []struct {
		name        string
		prefix      string
		remotePath  string
		expectedKey string
	}{
		{name: "no prefix", prefix: "", remotePath: "updates/u.mrc", expectedKey: "updates/u.mrc"},
		{name: "with prefix", prefix: "sierra", remotePath: "deletes/d.mrc", expectedKey: "sierra/deletes/d.mrc"},
		{name: "prefix with trailing slash", prefix: "exports/", remotePath: "e.mrc", expectedKey: "exports/e.mrc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{}
			withFakeS3(t, fake)

			ch, err := NewS3Channel(context.Background(), S3Config{Bucket: "marc", Prefix: tt.prefix})
			if err != nil {
				t.Fatal(err)
			}
			if err := ch.Deliver(context.Background(), writeArtifact(t, "BYTES"), tt.remotePath); err != nil {
				t.Fatalf("Deliver() error = %v", err)
			}

			if fake.putLastBucket != "marc" || fake.putLastKey != tt.expectedKey {
				t.Errorf("put s3://%s/%s, want s3://marc/%s", fake.putLastBucket, fake.putLastKey, tt.expectedKey)
			}
			if string(fake.putLastBody) != "BYTES" || fake.putLastLength != 5 {
				t.Errorf("body = %q (length %d)", fake.putLastBody, fake.putLastLength)
			}
		})
	}
}

func TestS3Channel_Errors(t *testing.T) {
	if _, err := NewS3Channel(context.Background(), S3Config{}); err == nil {
		t.Error("expected error for empty bucket")
	}

	fake := &fakeS3{putErr: errors.New("AccessDenied")}
	withFakeS3(t, fake)
	ch, err := NewS3Channel(context.Background(), S3Config{Bucket: "marc"})
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Deliver(context.Background(), writeArtifact(t, "x"), "x.mrc"); err == nil {
		t.Error("expected put error")
	}
}
