package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/store"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-pipeline/internal/wire"
)

// defaultClip is used for uploads from clients that do not send a clip id.
const defaultClip = "default"

type userInitRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type sessionInitRequest struct {
	Session struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"session"`
	UIDs []string `json:"uids"`
}

func (s *Server) userInit(c *gin.Context) {
	var req userInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u := store.User{ID: uuid.NewString()}
	if err := copier.Copy(&u, &req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.CreateUser(c.Request.Context(), &u); err != nil {
		log.Error("Create user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uid": u.ID})
}

func (s *Server) sessionInit(c *gin.Context) {
	var req sessionInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := store.Session{ID: uuid.NewString()}
	if err := copier.Copy(&sess, &req.Session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.CreateSession(c.Request.Context(), &sess, req.UIDs); err != nil {
		if errors.Is(err, store.ErrUnknownUser) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error("Create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	log.Info("Session %s created (%q)", sess.ID, sess.Name)
	c.JSON(http.StatusOK, gin.H{"sid": sess.ID})
}

func (s *Server) reject(c *gin.Context, status int, reason, msg string) {
	s.metrics.Rejected.WithLabelValues(reason).Inc()
	c.JSON(status, gin.H{"error": msg})
}

func (s *Server) posesUpload(c *gin.Context) {
	body, status, err := s.readBody(c)
	if err != nil {
		s.reject(c, status, "body", err.Error())
		return
	}

	codec, err := wire.CodecForContentType(c.GetHeader("Content-Type"))
	if err != nil {
		s.reject(c, http.StatusUnsupportedMediaType, "content_type", err.Error())
		return
	}

	var p wire.Payload
	if err := codec.Unmarshal(body, &p); err != nil {
		s.reject(c, http.StatusBadRequest, "decode", err.Error())
		return
	}
	if p.SessionID == "" {
		s.reject(c, http.StatusBadRequest, "decode", "sessionId is required")
		return
	}
	if len(p.Frames) > 0 && len(p.Frames) != len(p.Poses) {
		s.reject(c, http.StatusBadRequest, "decode", "poses and frames differ in length")
		return
	}
	if p.ClipID == "" {
		p.ClipID = defaultClip
	}

	poses := make([]store.Pose, len(p.Poses))
	for i := range p.Poses {
		if err := copier.Copy(&poses[i], &p.Poses[i]); err != nil {
			s.reject(c, http.StatusBadRequest, "decode", err.Error())
			return
		}
	}

	// frame paths are deterministic, so they are recorded before the
	// frames are queued
	if s.recorder != nil {
		for i, f := range p.Frames {
			if path, err := recorder.FramePath(p.SessionID, p.ClipID, f.Timestamp, f.Encoding); err == nil {
				poses[i].FramePath = path
			}
		}
	}

	clip, stored, err := s.store.SaveBatch(c.Request.Context(), p.SessionID, p.ClipID, poses, p.ClipFinished)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.reject(c, http.StatusNotFound, "unknown_session", "session does not exist")
			return
		}
		log.Error("Save batch #%d of %s/%s: %v", p.Sequence, p.SessionID, p.ClipID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store batch"})
		return
	}

	if s.recorder != nil {
		for _, f := range p.Frames {
			if _, ok := s.recorder.SendFrame(p.SessionID, p.ClipID, f); ok {
				s.metrics.Frames.Inc()
				s.metrics.FrameBytes.Add(float64(len(f.Data)))
			}
		}
	}

	s.metrics.Batches.WithLabelValues(codecName(codec)).Inc()
	s.metrics.Poses.Add(float64(stored))
	if p.ClipFinished {
		s.metrics.ClipsClosed.Inc()
		log.Info("Clip %d (%s) of session %s finished with %d poses", clip.Number, clip.ClipID, clip.SessionID, clip.PoseCount)
	}

	c.JSON(http.StatusOK, gin.H{"stored": stored, "clip": clip})
}

func codecName(c wire.Codec) string {
	if _, ok := c.(wire.Protobuf); ok {
		return "protobuf"
	}
	return "json"
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.store.GetSession(c.Request.Context(), c.Param("sid"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) clipPoses(c *gin.Context) {
	poses, err := s.store.ClipPoses(c.Request.Context(), c.Param("sid"), c.Param("clip"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"poses": poses})
}
