package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"followsync/pkg/models"
)

// SyncResponse is the body of a successful POST /api/v1/sync
type SyncResponse struct {
	Success           bool                    `json:"success"`
	FollowersCount    int                     `json:"followersCount"`
	UnfollowersCount  int                     `json:"unfollowersCount"`
	NewFollowersCount int                     `json:"newFollowersCount"`
	Unfollowers       []models.FollowerRecord `json:"unfollowers"`
	Message           string                  `json:"message"`
	LastSync          time.Time               `json:"lastSync"`
	Partial           bool                    `json:"partial"`
	Truncated         bool                    `json:"truncated"`
}

// StatusResponse is the body of GET /api/v1/sync/status
type StatusResponse struct {
	NeedsSync      bool       `json:"needsSync"`
	HasFollowers   bool       `json:"hasFollowers"`
	FollowersCount int        `json:"followersCount"`
	LastSync       *time.Time `json:"lastSync"`
	CanUpdate      bool       `json:"canUpdate"`
	NextUpdateIn   int        `json:"nextUpdateIn"`
	InProgress     bool       `json:"inProgress"`
}

// Sync handles POST /api/v1/sync.
func (s *Server) Sync(c *gin.Context) {
	ctx := c.Request.Context()
	if timeout := s.opts.Server.SyncTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := s.svc.Sync(ctx, accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	unfollowers := res.Unfollowers
	if unfollowers == nil {
		unfollowers = []models.FollowerRecord{}
	}
	c.JSON(http.StatusOK, SyncResponse{
		Success:           true,
		FollowersCount:    res.FollowerCount,
		UnfollowersCount:  res.UnfollowerCount,
		NewFollowersCount: res.NewFollowerCount,
		Unfollowers:       unfollowers,
		Message:           res.Message,
		LastSync:          res.LastSync,
		Partial:           res.Partial,
		Truncated:         res.Truncated,
	})
}

// SyncStatus handles GET /api/v1/sync/status.
func (s *Server) SyncStatus(c *gin.Context) {
	st, err := s.svc.Status(c.Request.Context(), accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := StatusResponse{
		NeedsSync:      st.NeedsSync,
		HasFollowers:   st.HasFollowers,
		FollowersCount: st.FollowerCount,
		CanUpdate:      st.CanUpdate,
		InProgress:     st.InProgress,
	}
	if !st.LastSync.IsZero() {
		last := st.LastSync
		resp.LastSync = &last
	}
	if st.NextUpdateIn > 0 {
		resp.NextUpdateIn = ceilSeconds(st.NextUpdateIn)
	}
	c.JSON(http.StatusOK, resp)
}

// Followers handles GET /api/v1/followers.
func (s *Server) Followers(c *gin.Context) {
	followers, err := s.svc.Followers(c.Request.Context(), accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if followers == nil {
		followers = models.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"followers": followers, "count": len(followers)})
}

// Unfollowers handles GET /api/v1/unfollowers. The history is newest first
// and covers the retention window.
func (s *Server) Unfollowers(c *gin.Context) {
	events, err := s.svc.Unfollowers(c.Request.Context(), accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []models.UnfollowEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"unfollowers": events, "count": len(events)})
}

// NotFollowingBack handles GET /api/v1/not-following-back. ?refresh=true
// bypasses the cached following list.
func (s *Server) NotFollowingBack(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))

	users, err := s.svc.NotFollowingBack(c.Request.Context(), accountID(c), refresh)
	if err != nil {
		writeError(c, err)
		return
	}
	if users == nil {
		users = []models.FollowerRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
