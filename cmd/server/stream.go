package main

import (
	"encoding/binary"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/echotrace/echotrace/pkg/echotrace/stream"
	"github.com/echotrace/echotrace/pkg/utils"
)

const (
	streamReadLimit   = 1 << 20 // 1 MiB per frame
	streamWriteWait   = 10 * time.Second
	streamEventBuffer = 32
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origins := s.config.AllowedOrigins
			if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range origins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleStream handles GET /ws/stream. The client sends binary frames of
// little-endian float32 PCM; the server pushes JSON match/status/error
// events. A frame whose length is not a multiple of 4 is unrecoverable and
// ends the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientID := utils.GenerateUUID()
	s.log.Infof("stream client %s connected from %s", clientID, getClientIP(r))

	out := make(chan stream.Event, streamEventBuffer)
	emit := func(ev stream.Event) {
		select {
		case out <- ev:
		default:
			s.log.Warnf("stream client %s: event buffer full, dropping %s event", clientID, ev.Type)
		}
	}

	session := stream.NewSession(r.Context(), clientID, s.service, stream.Config{
		SampleRate: s.config.SampleRate,
	}, s.log, emit)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range out {
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debugf("stream client %s: write failed: %v", clientID, err)
				return
			}
		}
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	emit(stream.Event{
		Type:      "status",
		ClientID:  clientID,
		Timestamp: time.Now(),
		Message:   "session started",
	})

	conn.SetReadLimit(streamReadLimit)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("stream client %s: read failed: %v", clientID, err)
			}
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		samples, ok := decodePCMFrame(data)
		if !ok {
			emit(stream.Event{
				Type:      "error",
				ClientID:  clientID,
				Timestamp: time.Now(),
				Message:   "malformed audio frame: length must be a multiple of 4",
			})
			break
		}
		if err := session.Append(samples); err != nil {
			break
		}
	}

	// Close first: it guarantees no further emits, so closing out is safe.
	session.Close()
	close(out)
	<-writerDone
	s.log.Infof("stream client %s disconnected", clientID)
}

// decodePCMFrame parses a binary frame of little-endian float32 samples.
func decodePCMFrame(data []byte) ([]float32, bool) {
	if len(data)%4 != 0 {
		return nil, false
	}
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, true
}
