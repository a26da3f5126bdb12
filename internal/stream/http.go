package stream

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"os/exec"

	log "github.com/sirupsen/logrus"

	"github.com/satindergrewal/phrasegen/internal/audio"
)

// HTTPHandler serves the radio as an endless chunked audio stream. The
// default is 16-bit WAV; ?format=mp3 encodes through FFmpeg instead.
type HTTPHandler struct {
	broadcaster *Broadcaster
	name        string
}

// NewHTTPHandler creates an HTTP stream handler. name is sent as the station
// name.
func NewHTTPHandler(b *Broadcaster, name string) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, name: name}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "wav":
		format = "wav"
		w.Header().Set("Content-Type", "audio/wav")
	case "mp3":
		w.Header().Set("Content-Type", "audio/mpeg")
	default:
		http.Error(w, "format must be wav or mp3", http.StatusBadRequest)
		return
	}
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", h.name)

	listener := h.broadcaster.Subscribe(TransportHTTP)
	defer h.broadcaster.Unsubscribe(listener)

	logger := log.WithFields(log.Fields{"remote": r.RemoteAddr, "format": format})
	logger.WithField("listeners", h.broadcaster.ListenerCount()).Info("HTTP listener connected")
	defer func() {
		logger.WithField("dropped_frames", listener.Dropped()).Info("HTTP listener disconnected")
	}()

	if format == "mp3" {
		h.serveMP3(r.Context(), w, flusher, listener, logger)
		return
	}
	h.serveWAV(r.Context(), w, flusher, listener)
}

func (h *HTTPHandler) serveWAV(ctx context.Context, w io.Writer, flusher http.Flusher, l *Listener) {
	if _, err := w.Write(StreamingWAVHeader()); err != nil {
		return
	}
	flusher.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *HTTPHandler) serveMP3(ctx context.Context, w io.Writer, flusher http.Flusher, l *Listener, logger log.FieldLogger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// FFmpeg: PCM stdin -> MP3 stdout
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		logger.WithError(err).Error("HTTP stream: stdin pipe")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logger.WithError(err).Error("HTTP stream: stdout pipe")
		return
	}
	if err := cmd.Start(); err != nil {
		logger.WithError(err).Error("HTTP stream: ffmpeg start")
		return
	}

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.Done():
				return
			case frame, ok := <-l.C:
				if !ok {
					return
				}
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				logger.WithError(err).Warn("HTTP stream: ffmpeg read")
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}

// StreamingWAVHeader returns a 44-byte PCM WAV header for a stream of unknown
// length. The RIFF and data sizes are set to their maximum.
func StreamingWAVHeader() []byte {
	const unknown = 0xFFFFFFFF
	blockAlign := audio.Channels * audio.BitDepth / 8
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(unknown))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(audio.Channels))
	binary.Write(&b, binary.LittleEndian, uint32(audio.SampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(audio.SampleRate*blockAlign))
	binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&b, binary.LittleEndian, uint16(audio.BitDepth))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(unknown))
	return b.Bytes()
}
