// Package api is the admin and peer-facing web server
package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/tpersp/piviewer/api/models"
	"github.com/tpersp/piviewer/catalog"
	"github.com/tpersp/piviewer/peersync"
	"github.com/tpersp/piviewer/rotation"
	"github.com/tpersp/piviewer/store"
	"github.com/tpersp/piviewer/util"
)

type WebServer struct {
	router    *gin.Engine
	db        *store.Database
	scheduler *rotation.Scheduler
	lister    *catalog.DirLister
	imageDir  string

	// nil when this device is not coordinating sub devices
	coordinator *peersync.Coordinator
}

func NewWebServer(
	db *store.Database,
	scheduler *rotation.Scheduler,
	lister *catalog.DirLister,
	coordinator *peersync.Coordinator,
	imageDir string,
) *WebServer {
	router := gin.Default()

	ws := &WebServer{
		router:      router,
		db:          db,
		scheduler:   scheduler,
		lister:      lister,
		coordinator: coordinator,
		imageDir:    imageDir,
	}

	ws.setupRoutes()

	return ws
}

func (ws *WebServer) setupRoutes() {
	// peer protocol, consumed by a coordinating main device
	ws.router.GET("/sync_config", ws.handleSyncConfig)
	ws.router.POST("/update_config", ws.handleUpdateConfig)
	ws.router.GET("/list_monitors", ws.handleListMonitors)

	// local admin
	ws.router.GET("/status", ws.handleStatus)
	ws.router.GET("/folders", ws.handleListFolders)
	ws.router.POST("/upload", ws.handleUpload)
	ws.router.DELETE("/media/:folder/:name", ws.handleDeleteMedia)
	ws.router.GET("/settings", ws.handleGetSettings)
	ws.router.PUT("/settings", ws.handleUpdateSettings)

	// sub device management, main role only
	ws.router.GET("/devices", ws.handleListDevices)
	ws.router.POST("/devices", ws.handleAddDevice)
	ws.router.DELETE("/devices/:name", ws.handleRemoveDevice)
	ws.router.POST("/devices/:name/pull", ws.handlePullDevice)
	ws.router.POST("/devices/:name/push", ws.handlePushDevice)
}

func (ws *WebServer) Start(bind string) {
	log.Printf("Starting web server on %s", bind)
	if err := ws.router.Run(bind); err != nil {
		log.Fatalf("Failed to start web server: %v", err)
	}
}

func (ws *WebServer) handleSyncConfig(c *gin.Context) {
	cfg, err := ws.db.LoadDeviceConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to load device config: %v", err)})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (ws *WebServer) handleUpdateConfig(c *gin.Context) {
	var req models.UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	if len(req.Displays) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "displays is required"})
		return
	}

	// a push from a main device goes through the same scheduler path as a
	// local edit
	result := ws.scheduler.ReconfigureAll(c.Request.Context(), req.Displays)
	if len(result.Applied) == 0 {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (ws *WebServer) handleListMonitors(c *gin.Context) {
	c.JSON(http.StatusOK, ws.scheduler.Handles())
}

func (ws *WebServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ws.scheduler.Snapshot())
}

func (ws *WebServer) handleListFolders(c *gin.Context) {
	folders, err := ws.lister.ListFolders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to list folders: %v", err)})
		return
	}
	if folders == nil {
		folders = []string{}
	}
	c.JSON(http.StatusOK, folders)
}

func (ws *WebServer) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No file provided"})
		return
	}

	ext := filepath.Ext(file.Filename)
	if !util.SupportedExt.Contains(ext) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: fmt.Sprintf("Unsupported file extension: %s", ext),
		})
		return
	}

	folder := c.PostForm("folder")
	targetDir := ws.imageDir
	if folder != "" {
		targetDir = filepath.Join(ws.imageDir, folder)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to create directory: %v", err)})
		return
	}

	filePath := filepath.Join(targetDir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, filePath); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to save file: %v", err)})
		return
	}

	// slots watching this folder re-resolve on their next advance
	ws.scheduler.RefreshCatalog(folder)

	c.JSON(http.StatusOK, models.UploadResponse{
		FileName: filepath.Base(file.Filename),
		Folder:   folder,
		Message:  "Media uploaded successfully",
	})
}

func (ws *WebServer) handleDeleteMedia(c *gin.Context) {
	folder := c.Param("folder")
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Media name is required"})
		return
	}

	filePath := filepath.Join(ws.imageDir, folder, filepath.Base(name))
	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: fmt.Sprintf("Media '%s' not found in folder '%s'", name, folder)})
		return
	}
	if err := os.Remove(filePath); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to delete file: %v", err)})
		return
	}

	ws.scheduler.RefreshCatalog(folder)

	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Media '%s' deleted successfully", name)})
}

func (ws *WebServer) handleGetSettings(c *gin.Context) {
	settings, err := ws.db.GetDeviceSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to get settings: %v", err)})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (ws *WebServer) handleUpdateSettings(c *gin.Context) {
	var req models.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	if req.Role != store.RoleMain && req.Role != store.RoleSub {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "role must be 'main' or 'sub'"})
		return
	}
	if req.Role == store.RoleMain {
		req.MainAddr = ""
	}

	settings := &store.DeviceSettings{Role: req.Role, MainAddr: req.MainAddr}
	if err := ws.db.UpsertDeviceSettings(settings); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to update settings: %v", err)})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// requireCoordinator guards the sub-device management routes; only a main
// device carries a coordinator.
func (ws *WebServer) requireCoordinator(c *gin.Context) bool {
	if ws.coordinator == nil {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "This device is not 'main', cannot manage remote devices"})
		return false
	}
	return true
}

func (ws *WebServer) handleListDevices(c *gin.Context) {
	if !ws.requireCoordinator(c) {
		return
	}
	statuses, err := ws.coordinator.Statuses()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to list devices: %v", err)})
		return
	}
	if statuses == nil {
		statuses = []peersync.PeerStatus{}
	}
	c.JSON(http.StatusOK, statuses)
}

func (ws *WebServer) handleAddDevice(c *gin.Context) {
	if !ws.requireCoordinator(c) {
		return
	}
	var req models.AddDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	if req.Name == "" || req.Addr == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "name and addr are required"})
		return
	}
	if err := ws.coordinator.AddPeer(store.Peer{Name: req.Name, Addr: req.Addr}); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: fmt.Sprintf("Failed to add device: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Device '%s' added", req.Name)})
}

func (ws *WebServer) handleRemoveDevice(c *gin.Context) {
	if !ws.requireCoordinator(c) {
		return
	}
	name := c.Param("name")
	if err := ws.coordinator.RemovePeer(name); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: fmt.Sprintf("Failed to remove device: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Device '%s' removed", name)})
}

func (ws *WebServer) handlePullDevice(c *gin.Context) {
	if !ws.requireCoordinator(c) {
		return
	}
	name := c.Param("name")
	cfg, err := ws.coordinator.Pull(c.Request.Context(), name)
	if err != nil {
		c.JSON(peerErrorStatus(err), models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (ws *WebServer) handlePushDevice(c *gin.Context) {
	if !ws.requireCoordinator(c) {
		return
	}
	name := c.Param("name")

	var req models.PushDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	if len(req.Displays) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "displays is required"})
		return
	}

	result, err := ws.coordinator.Push(c.Request.Context(), name, req.Displays)
	if err != nil {
		c.JSON(peerErrorStatus(err), models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func peerErrorStatus(err error) int {
	var rejected *peersync.RejectedError
	switch {
	case errors.As(err, &rejected):
		return http.StatusBadRequest
	case errors.Is(err, peersync.ErrPeerUnreachable), errors.Is(err, peersync.ErrPeerProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusNotFound
	}
}
