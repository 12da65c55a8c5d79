package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stoday/simplechat/pkg/chat"
)

func sendResultResponse(t *testing.T, w http.ResponseWriter, pendingReply bool) {
	t.Helper()
	result := chat.SendResult{
		Message: chat.Message{ID: 10, Role: chat.RoleUser, Content: "hi", Status: chat.StatusCompleted},
	}
	if pendingReply {
		result.Reply = &chat.Message{ID: 11, Role: chat.RoleAssistant, Status: chat.StatusPending}
	}
	require.NoError(t, json.NewEncoder(w).Encode(result))
}

func TestUploadWritesMultipartFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/messages", r.URL.Path)
		require.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "5", r.FormValue("conversation_id"))
		require.Equal(t, "hello with files", r.FormValue("content"))

		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		require.Equal(t, "notes.txt", files[0].Filename)
		require.Equal(t, "text/plain", files[0].Header.Get("Content-Type"))

		f, err := files[0].Open()
		require.NoError(t, err)
		defer func() {
			_ = f.Close()
		}()
		body, err := io.ReadAll(f)
		require.NoError(t, err)
		require.Equal(t, "file contents", string(body))

		sendResultResponse(t, w, true)
	})

	files := []FileUpload{
		{Name: "notes.txt", MimeType: "text/plain", Size: 13, Reader: strings.NewReader("file contents")},
		{Name: "data.bin", MimeType: "application/octet-stream", Size: 4, Reader: strings.NewReader("abcd")},
	}
	upload := client.NewUpload(5, "hello with files", files, nil)

	result, err := upload.Do(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(10), result.Message.ID)
	require.NotNil(t, result.Reply)
	require.True(t, result.Reply.Pending())
}

func TestUploadProgressWithKnownSizes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		sendResultResponse(t, w, false)
	})

	var reported []int
	payload := strings.Repeat("x", 64*1024)
	files := []FileUpload{
		{Name: "big.txt", Size: int64(len(payload)), Reader: strings.NewReader(payload)},
	}
	upload := client.NewUpload(1, "msg", files, func(percent int) {
		reported = append(reported, percent)
	})

	_, err := upload.Do(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, reported)

	for i := 1; i < len(reported); i++ {
		require.Greater(t, reported[i], reported[i-1], "progress must be strictly increasing")
	}
	for _, pct := range reported[:len(reported)-1] {
		require.LessOrEqual(t, pct, 99, "only server confirmation may report 100")
	}
	require.Equal(t, 100, reported[len(reported)-1])
}

func TestUploadProgressWithUnknownSizeStaysBelowConfirmation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		sendResultResponse(t, w, false)
	})

	var reported []int
	payload := strings.Repeat("y", 256*1024)
	files := []FileUpload{
		{Name: "stream.bin", Size: -1, Reader: strings.NewReader(payload)},
	}
	upload := client.NewUpload(1, "msg", files, func(percent int) {
		reported = append(reported, percent)
	})

	_, err := upload.Do(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, reported)

	for _, pct := range reported[:len(reported)-1] {
		require.LessOrEqual(t, pct, 95)
	}
	require.Equal(t, 100, reported[len(reported)-1])
}

func TestUploadCancelledBeforeDoNeverStarts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	})

	upload := client.NewUpload(1, "msg", nil, nil)
	upload.Cancel()

	_, err := upload.Do(context.Background())
	require.Error(t, err)
	require.True(t, IsCancelled(err))
}

func TestUploadCancelledInFlight(t *testing.T) {
	requestStarted := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(requestStarted)
		// drain slowly so the cancel lands mid-request
		_, _ = io.Copy(io.Discard, r.Body)
		sendResultResponse(t, w, false)
	})

	blocked := make(chan struct{})
	upload := client.NewUpload(1, "msg", []FileUpload{
		{Name: "slow.bin", Size: -1, Reader: &blockingReader{unblock: blocked}},
	}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := upload.Do(context.Background())
		done <- err
	}()

	<-requestStarted
	upload.Cancel()
	close(blocked)

	select {
	case err := <-done:
		require.Error(t, err)
		require.True(t, IsCancelled(err))
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not return after cancel")
	}
}

// blockingReader blocks every read until unblock is closed, then reports EOF.
type blockingReader struct {
	unblock chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.unblock
	return 0, io.EOF
}
