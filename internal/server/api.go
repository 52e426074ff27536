package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/provisr/internal/manager"
	"github.com/loykin/provisr/internal/metrics"
	"github.com/loykin/provisr/internal/portalloc"
)

var (
	errBothPortForms = errors.New("provide either port or port_range, not both")
	errBadPortRange  = errors.New("port_range must be [lo, hi]")
)

// registerAPI mounts the versionless /api path table (spec §6) onto g, guarded by
// apiKeyAuth. /ws is deliberately not under this group: it carries its own auth-exempt
// mount in Handler.
func (r *Router) registerAPI(g *gin.Engine) {
	api := g.Group("/api")
	api.Use(securityHeaders(), corsMiddleware(), apiKeyAuth(r.apiKey))

	api.GET("/processes", r.handleListRecords)
	api.GET("/processes/:id", r.handleGetRecord)
	api.DELETE("/processes/:id", r.handleDeleteRecord)
	api.POST("/processes/:id/start", r.handleStartRecord)
	api.POST("/processes/:id/stop", r.handleStopRecord)
	api.POST("/processes/:id/restart", r.handleRestartRecord)
	api.POST("/processes/:id/reload", r.handleReloadRecord)
	api.GET("/processes/:id/logs", r.handleRecordLogs)
	api.GET("/system", r.handleSystemSnapshot)
	api.GET("/status", r.handleCombinedStatus)
}

// apiError maps a manager.Error's Kind to the HTTP status the spec's error-handling
// design assigns it; a plain error (not a *manager.Error) is treated as Internal.
func apiError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var me *mng.Error
	if errors.As(err, &me) {
		switch me.Kind {
		case mng.KindNotFound:
			status = http.StatusNotFound
		case mng.KindAlreadyExists, mng.KindAlreadyRunning, mng.KindPortInUse:
			status = http.StatusConflict
		case mng.KindInvalidConfig, mng.KindInvalidArgument, mng.KindInsufficientPorts, mng.KindNoFreePort:
			status = http.StatusBadRequest
		case mng.KindPermissionDenied:
			status = http.StatusUnauthorized
		default:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(c, status, gin.H{"success": false, "error": err.Error(), "message": err.Error()})
}

func (r *Router) handleListRecords(c *gin.Context) {
	namespace := c.Query("namespace")
	all := r.mgr.List()
	if namespace == "" {
		writeJSON(c, http.StatusOK, gin.H{"success": true, "processes": all})
		return
	}
	filtered := make([]mng.Snapshot, 0, len(all))
	for _, s := range all {
		if s.Namespace == namespace {
			filtered = append(filtered, s)
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "processes": filtered})
}

func (r *Router) findRecord(id string) (mng.Snapshot, bool) {
	for _, s := range r.mgr.List() {
		if s.ID == id || s.Name == id {
			return s, true
		}
	}
	return mng.Snapshot{}, false
}

func (r *Router) handleGetRecord(c *gin.Context) {
	s, ok := r.findRecord(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such process"})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "process": s})
}

func (r *Router) handleDeleteRecord(c *gin.Context) {
	if err := r.mgr.Delete(c.Param("id")); err != nil {
		apiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStartRecord(c *gin.Context) {
	s, ok := r.findRecord(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such process"})
		return
	}
	if err := r.mgr.Start(s.Spec); err != nil {
		apiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopRecord(c *gin.Context) {
	s, ok := r.findRecord(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such process"})
		return
	}
	if err := r.mgr.Stop(s.Name, s.Spec.KillTimeout); err != nil {
		apiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// restartReloadBody is the optional port override accepted by both restart and reload:
// either a fixed {port} or a {port_range:[lo,hi]}, never both.
type restartReloadBody struct {
	Port      *int  `json:"port"`
	PortRange []int `json:"port_range"`
}

func (b restartReloadBody) toSpec() (*portalloc.Spec, error) {
	switch {
	case b.Port != nil && len(b.PortRange) > 0:
		return nil, errBothPortForms
	case b.Port != nil:
		s := portalloc.SinglePort(uint16(*b.Port))
		return &s, nil
	case len(b.PortRange) == 2:
		s := portalloc.RangePort(uint16(b.PortRange[0]), uint16(b.PortRange[1]))
		return &s, nil
	case len(b.PortRange) > 0:
		return nil, errBadPortRange
	default:
		return nil, nil
	}
}

func (r *Router) handleRestartRecord(c *gin.Context) {
	var body restartReloadBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	portOverride, err := body.toSpec()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	id := c.Param("id")
	if portOverride != nil {
		err = r.mgr.Reload(id, portOverride)
	} else {
		err = r.mgr.Restart(id)
	}
	if err != nil {
		apiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReloadRecord(c *gin.Context) {
	var body restartReloadBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	portOverride, err := body.toSpec()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if err := r.mgr.Reload(c.Param("id"), portOverride); err != nil {
		apiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRecordLogs(c *gin.Context) {
	s, ok := r.findRecord(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such process"})
		return
	}
	lines := 0
	if v := c.Query("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			lines = n
		}
	}
	out, err := r.mgr.ReadLogs(s.Name, lines)
	if err != nil {
		apiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "lines": out})
}

func (r *Router) handleSystemSnapshot(c *gin.Context) {
	snap, err := metrics.SampleSystem()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "system": snap})
}

func (r *Router) handleCombinedStatus(c *gin.Context) {
	sys, _ := metrics.SampleSystem()
	writeJSON(c, http.StatusOK, gin.H{
		"success":   true,
		"processes": r.mgr.List(),
		"system":    sys,
		"ports":     r.mgr.Ports().Allocated(),
	})
}
