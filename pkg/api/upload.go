package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/stoday/simplechat/pkg/chat"
)

// FileUpload is a raw file handle handed over by the file-selection surface.
// Size may be -1 when the length is not known up front, in which case upload
// progress is synthesized instead of byte-accurate.
type FileUpload struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.Reader
}

// ProgressFunc receives aggregate upload progress in the range 0-100. 100 is
// only ever reported once the server has confirmed the request.
type ProgressFunc func(percent int)

// Upload is the live handle for one outbound message send. It carries the
// message text, the target conversation and any attachments in a single
// multipart request, and can be cancelled while in flight.
type Upload struct {
	client         *Client
	conversationID int64
	content        string
	files          []FileUpload
	onProgress     ProgressFunc

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
}

// NewUpload prepares a send. Nothing touches the network until Do is called.
func (c *Client) NewUpload(conversationID int64, content string, files []FileUpload, onProgress ProgressFunc) *Upload {
	return &Upload{
		client:         c,
		conversationID: conversationID,
		content:        content,
		files:          files,
		onProgress:     onProgress,
	}
}

// Cancel aborts the in-flight request. Do returns a CancelledError. Calling
// Cancel before Do prevents the request from ever starting.
func (u *Upload) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled = true
	if u.cancel != nil {
		u.cancel()
	}
}

// Do performs the multipart POST /api/messages request and returns the stored
// user message plus the assistant reply placeholder.
func (u *Upload) Do(ctx context.Context) (*chat.SendResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.mu.Lock()
	if u.cancelled {
		u.mu.Unlock()
		return nil, &CancelledError{Err: context.Canceled}
	}
	u.cancel = cancel
	u.mu.Unlock()

	total := int64(len(u.content))
	totalKnown := true
	for _, f := range u.files {
		if f.Size < 0 {
			totalKnown = false
			break
		}
		total += f.Size
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(u.writeForm(mw))
	}()

	reporter := &progressReader{
		r:          pr,
		total:      total,
		totalKnown: totalKnown,
		onProgress: u.onProgress,
	}

	req, err := u.client.newRequest(ctx, http.MethodPost, "/api/messages", nil, reporter)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result chat.SendResult
	if err := u.client.doJSON(req, &result); err != nil {
		u.mu.Lock()
		cancelled := u.cancelled
		u.mu.Unlock()
		if cancelled {
			return nil, &CancelledError{Err: err}
		}
		return nil, err
	}

	if u.onProgress != nil {
		u.onProgress(100)
	}
	return &result, nil
}

func (u *Upload) writeForm(mw *multipart.Writer) error {
	if err := mw.WriteField("conversation_id", strconv.FormatInt(u.conversationID, 10)); err != nil {
		return errors.Wrap(err, "failed to write conversation id field")
	}
	if err := mw.WriteField("content", u.content); err != nil {
		return errors.Wrap(err, "failed to write content field")
	}
	for _, f := range u.files {
		// strip any directory component, the server only keeps the base name
		name := filepath.Base(f.Name)
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="files"; filename="`+escapeQuotes(name)+`"`)
		if f.MimeType != "" {
			header.Set("Content-Type", f.MimeType)
		}
		part, err := mw.CreatePart(header)
		if err != nil {
			return errors.Wrapf(err, "failed to create form part for %s", f.Name)
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return errors.Wrapf(err, "failed to copy file %s", f.Name)
		}
	}
	return errors.Wrap(mw.Close(), "failed to finalize multipart body")
}

func escapeQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || s[i] == '"' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// progressReader reports aggregate progress as the transport drains the
// multipart body. With a known total it reports byte-accurate progress capped
// at 99; otherwise it steps toward 95 and lets the caller claim 100 once the
// server confirms.
type progressReader struct {
	r          io.Reader
	total      int64
	totalKnown bool
	onProgress ProgressFunc

	read int64
	last int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.onProgress != nil {
		p.read += int64(n)
		pct := p.last
		if p.totalKnown && p.total > 0 {
			pct = int(p.read * 99 / p.total)
			if pct > 99 {
				pct = 99
			}
		} else {
			pct = p.last + 5
			if pct > 95 {
				pct = 95
			}
		}
		if pct > p.last {
			p.last = pct
			p.onProgress(pct)
		}
	}
	return n, err
}
