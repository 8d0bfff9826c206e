package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/time/rate"

	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/errors"
	"github.com/theRAGEhero/world-cafe/internal/logging"
	"github.com/theRAGEhero/world-cafe/internal/observability"
)

const (
	// audioChunkSize is how much staged audio goes out per websocket frame.
	audioChunkSize = 4096
	// audioBufferSize is the staging capacity between the audio producer and
	// the websocket writer. At 16 kHz mono 16-bit this holds several seconds.
	audioBufferSize = 256 * 1024
	// chunkInterval paces outgoing audio so a fast producer cannot flood the
	// service connection.
	chunkInterval = 20 * time.Millisecond

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// liveResult is the shape of a streaming result message from the service.
type liveResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
				Speaker        int     `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// LiveStream is a websocket connection to the streaming speech service for
// one table recording. Audio written through WriteAudio is staged in a ring
// buffer and drained by a paced writer goroutine; results are delivered to
// the handler from a reader goroutine. A dropped connection is retried once;
// after a second failure the stream reports a terminal error.
type LiveStream struct {
	settings conf.SpeechSettings
	handler  Handler
	metrics  *observability.Metrics
	logger   *slog.Logger

	audio   *ringbuffer.RingBuffer
	limiter *rate.Limiter

	mu   sync.Mutex
	conn *websocket.Conn
	err  error

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	reconnected bool
}

// NewLiveStream creates a live stream. metrics may be nil.
func NewLiveStream(settings conf.SpeechSettings, handler Handler, metrics *observability.Metrics) *LiveStream {
	return &LiveStream{
		settings: settings,
		handler:  handler,
		metrics:  metrics,
		logger:   logging.ForService("speech"),
		audio:    ringbuffer.New(audioBufferSize).SetBlocking(true),
		limiter:  rate.NewLimiter(rate.Every(chunkInterval), 1),
		done:     make(chan struct{}),
	}
}

// Start dials the service and launches the writer and reader goroutines.
func (s *LiveStream) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	conn, err := s.dial()
	if err != nil {
		close(s.done)
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.run()
	return nil
}

// dial opens the websocket connection with the configured stream parameters.
func (s *LiveStream) dial() (*websocket.Conn, error) {
	u, err := url.Parse(s.settings.URL)
	if err != nil {
		return nil, errors.New(err).
			Component("speech").
			Category(errors.CategoryConfiguration).
			Build()
	}
	q := u.Query()
	q.Set("language", s.settings.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", s.settings.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", s.settings.Channels))
	q.Set("diarize", "true")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()

	header := http.Header{}
	if s.settings.APIKey != "" {
		header.Set("Authorization", "Token "+s.settings.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.Dial(u.String(), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, errors.New(err).
			Component("speech").
			Category(errors.CategorySpeechStream).
			Context("status", status).
			Build()
	}
	return conn, nil
}

// WriteAudio stages raw audio for the writer goroutine. Blocks only when the
// staging buffer is full, which means the connection is not keeping up.
func (s *LiveStream) WriteAudio(data []byte) error {
	if _, err := s.audio.Write(data); err != nil {
		return errors.New(err).
			Component("speech").
			Category(errors.CategorySpeechStream).
			Build()
	}
	return nil
}

// run owns the connection lifecycle: a single writer goroutine drains the
// audio buffer for the stream's whole life while the reader is restarted per
// connection. A dropped connection is redialed once.
func (s *LiveStream) run() {
	defer close(s.done)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()
	// The writer blocks on the audio buffer; closing the buffer is what
	// unblocks it on every exit path below.
	defer func() { <-writerDone }()
	defer s.audio.CloseWriter()

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readLoop(conn)
		conn.Close()
		if err == nil || s.ctx.Err() != nil {
			return
		}

		if s.reconnected {
			s.fail(err)
			return
		}
		s.reconnected = true
		if s.metrics != nil {
			s.metrics.Transcript.StreamReconnects.Inc()
		}
		s.logger.Warn("speech stream dropped, reconnecting", "error", err)

		select {
		case <-time.After(s.settings.ReconnectDelayDuration()):
		case <-s.ctx.Done():
			return
		}
		conn, dialErr := s.dial()
		if dialErr != nil {
			s.fail(dialErr)
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
	}
}

// writeLoop drains staged audio to the current connection, paced by the
// limiter. Write errors are ignored: the reader notices the dead connection
// and handles the reconnect, after which writes target the new connection.
// When the staging buffer is closed the service is asked to flush.
func (s *LiveStream) writeLoop() {
	chunk := make([]byte, audioChunkSize)
	for {
		n, err := s.audio.Read(chunk)
		if err != nil {
			if err == io.EOF {
				s.writeMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			}
			return
		}
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		s.writeMessage(websocket.BinaryMessage, chunk[:n])
	}
}

// writeMessage sends one frame on whatever the current connection is.
func (s *LiveStream) writeMessage(messageType int, payload []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(messageType, payload); err != nil {
		s.logger.Debug("audio frame write failed", "error", err)
	}
}

// readLoop parses result messages and hands word events to the handler.
// Returns nil when the service closes the connection normally.
func (s *LiveStream) readLoop(conn *websocket.Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if s.ctx.Err() != nil {
				return nil
			}
			return err
		}

		var result liveResult
		if err := json.Unmarshal(payload, &result); err != nil {
			s.logger.Warn("unparseable result message", "error", err)
			continue
		}
		if result.Type != "" && result.Type != "Results" {
			continue
		}
		if len(result.Channel.Alternatives) == 0 {
			continue
		}
		for _, word := range result.Channel.Alternatives[0].Words {
			if word.Confidence < s.settings.MinConfidence {
				continue
			}
			text := word.PunctuatedWord
			if text == "" {
				text = word.Word
			}
			s.handler(WordEvent{
				Speaker:    word.Speaker,
				Word:       text,
				IsFinal:    result.IsFinal,
				Start:      word.Start,
				End:        word.End,
				Confidence: word.Confidence,
			})
		}
	}
}

// Stop closes the audio producer side, waits for the service to flush final
// results and tears the connection down. Idempotent.
func (s *LiveStream) Stop() error {
	s.stopOnce.Do(func() {
		s.audio.CloseWriter()
		select {
		case <-s.done:
		case <-time.After(10 * time.Second):
			// The service did not close within the drain window.
			s.cancel()
			s.mu.Lock()
			if s.conn != nil {
				s.conn.Close()
			}
			s.mu.Unlock()
			<-s.done
		}
		s.cancel()
	})
	return s.Err()
}

// fail records the terminal error and closes the audio buffer so producers
// unblock.
func (s *LiveStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.audio.CloseWithError(err)
	if s.metrics != nil {
		s.metrics.Transcript.StreamFailures.Inc()
	}
	s.logger.Error("speech stream failed", "error", err)
}

// Done is closed when the connection lifecycle has ended.
func (s *LiveStream) Done() <-chan struct{} {
	return s.done
}

// Err reports the terminal stream error.
func (s *LiveStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
