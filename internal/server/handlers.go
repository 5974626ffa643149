package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/waygate/bridge/internal/lifecycle"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"phase":  snap.Phase.String(),
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "OK",
		"whatsappReady": snap.Phase == lifecycle.PhaseReady,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":     snap.Phase.String(),
		"isReady":   snap.Phase == lifecycle.PhaseReady,
		"hasQrCode": snap.HasQR,
		"hasSocket": snap.HasSession,
	})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	if snap.Phase == lifecycle.PhaseReady {
		s.writeError(w, http.StatusBadRequest, "already_connected",
			fmt.Errorf("already connected, no QR code available"))
		return
	}
	if qr, ok := s.manager.QR(); ok {
		s.writeJSON(w, http.StatusOK, map[string]string{"qr": qr})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "waiting"})
}

func (s *Server) handleQRDisplay(w http.ResponseWriter, r *http.Request) {
	snap := s.manager.Snapshot()
	qr, ok := s.manager.QR()

	data := qrDisplayData{
		Ready:   snap.Phase == lifecycle.PhaseReady,
		Waiting: !ok && snap.Phase != lifecycle.PhaseReady,
	}
	if ok {
		png, err := qrcode.Encode(qr, qrcode.Medium, 256)
		if err != nil {
			s.logger.Error("qr png encode failed", zap.Error(err))
			http.Error(w, "failed to encode QR code", http.StatusInternalServerError)
			return
		}
		data.ImageBase64 = base64.StdEncoding.EncodeToString(png)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := qrDisplayTmpl.Execute(w, data); err != nil {
		s.logger.Error("qr display render failed", zap.Error(err))
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if _, err := s.manager.RequestConnect(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "connection requested, poll /status for progress",
	})
}

type disconnectRequest struct {
	DeleteAuth bool  `json:"deleteAuth"`
	Reconnect  *bool `json:"reconnect"`
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	// An empty or absent body means a plain disconnect.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid_argument",
			fmt.Errorf("invalid JSON body: %v", err))
		return
	}

	// Default matches the historical behavior: reconnect automatically
	// when credentials are kept, stay down when they are wiped.
	reconnect := !req.DeleteAuth
	if req.Reconnect != nil {
		reconnect = *req.Reconnect
	}

	res, err := s.manager.RequestDisconnect(r.Context(), lifecycle.DisconnectOptions{
		WipeCredentials: req.DeleteAuth,
		Reconnect:       reconnect,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deletedAuth": res.DeletedAuth})
}

func (s *Server) handleClearAuth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.manager.ClearAuth(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "credentials cleared, reconnecting for fresh pairing",
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	// Reject before touching the multipart body so a not-ready send
	// never writes to the scratch directory.
	if snap := s.manager.Snapshot(); snap.Phase != lifecycle.PhaseReady {
		s.writeLifecycleError(w, lifecycle.ErrNotReady)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.uploads.maxBytes+1<<20)
	if err := r.ParseMultipartForm(s.uploads.maxBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_argument",
			fmt.Errorf("invalid multipart form: %v", err))
		return
	}

	target := r.FormValue("number")
	text := r.FormValue("message")

	file, header, err := r.FormFile("image")
	hasFile := err == nil
	if err != nil && err != http.ErrMissingFile {
		s.writeError(w, http.StatusBadRequest, "invalid_argument",
			fmt.Errorf("invalid file upload: %v", err))
		return
	}

	if target == "" || (text == "" && !hasFile) {
		if hasFile {
			file.Close()
		}
		s.writeError(w, http.StatusBadRequest, "invalid_argument",
			fmt.Errorf("number and at least one of message/image are required"))
		return
	}

	var media *lifecycle.Media
	if hasFile {
		defer file.Close()

		path, mimeType, err := s.uploads.stage(file, header)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_argument", err)
			return
		}
		// Scratch files never outlive the send attempt.
		defer os.Remove(path)

		data, err := os.ReadFile(path)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "internal",
				fmt.Errorf("read staged upload: %v", err))
			return
		}
		media = &lifecycle.Media{Data: data, MimeType: mimeType, FileName: header.Filename}
	}

	id, err := s.manager.SendMessage(r.Context(), target, text, media)
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"messageId": id})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.manager.ListGroups(r.Context())
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": groups,
		"total":  len(groups),
	})
}
