package overlay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestID identifies one request on a link.
type RequestID [16]byte

func newRequestID() RequestID { return RequestID(uuid.New()) }

func (id RequestID) String() string { return uuid.UUID(id).String() }

// RequestStatus is the lifecycle state of a request.
type RequestStatus int

const (
	RequestSent RequestStatus = iota
	RequestReady
	RequestFailed
)

func (s RequestStatus) String() string {
	switch s {
	case RequestSent:
		return "sent"
	case RequestReady:
		return "ready"
	case RequestFailed:
		return "failed"
	}
	return "unknown"
}

// RequestReceipt tracks a request until it is answered, fails or times out.
// Exactly one of the callbacks fires, once.
type RequestReceipt struct {
	id     RequestID
	path   string
	sentAt time.Time

	onResponse func(*RequestReceipt)
	onFailed   func(*RequestReceipt)
	timer      *time.Timer
	once       sync.Once

	mu        sync.Mutex
	status    RequestStatus
	response  []byte
	err       error
	concluded time.Time
}

func newReceipt(path string, onResponse, onFailed func(*RequestReceipt)) *RequestReceipt {
	return &RequestReceipt{
		id:         newRequestID(),
		path:       path,
		sentAt:     time.Now(),
		onResponse: onResponse,
		onFailed:   onFailed,
	}
}

func (r *RequestReceipt) ID() RequestID     { return r.id }
func (r *RequestReceipt) Path() string      { return r.path }
func (r *RequestReceipt) SentAt() time.Time { return r.sentAt }

func (r *RequestReceipt) Status() RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Response is the body returned by the remote handler, nil until ready.
func (r *RequestReceipt) Response() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Err is ErrRequestTimeout, ErrRequestFailed (wrapped with the remote
// message) or ErrLinkClosed once the request has failed.
func (r *RequestReceipt) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ResponseTime is the round trip, zero until the request concluded.
func (r *RequestReceipt) ResponseTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.concluded.IsZero() {
		return 0
	}
	return r.concluded.Sub(r.sentAt)
}

func (r *RequestReceipt) resolve(data []byte) {
	r.conclude(RequestReady, data, nil)
}

func (r *RequestReceipt) fail(err error) {
	r.conclude(RequestFailed, nil, err)
}

func (r *RequestReceipt) conclude(status RequestStatus, data []byte, err error) {
	r.once.Do(func() {
		if r.timer != nil {
			r.timer.Stop()
		}
		r.mu.Lock()
		r.status = status
		r.response = data
		r.err = err
		r.concluded = time.Now()
		r.mu.Unlock()

		cb := r.onResponse
		if status == RequestFailed {
			cb = r.onFailed
		}
		if cb != nil {
			cb(r)
		}
	})
}
