package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/javanstorm/qvmctl/internal/definition"
	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, b Backend, log hclog.Logger) {
	api := router.Group("/api")

	api.GET("/machines", handleList(b))
	api.POST("/machines", handleCreate(b))
	api.GET("/machines/:name", handleGet(b))
	api.PUT("/machines/:name", handleSave(b))
	api.DELETE("/machines/:name", handleDelete(b, log))
	api.GET("/machines/:name/cmdline", handleCmdline(b))

	api.POST("/machines/:name/start", handleLifecycle(b, b.Start))
	api.POST("/machines/:name/stop", handleLifecycle(b, b.Stop))
	api.POST("/machines/:name/pause", handleLifecycle(b, b.Pause))
	api.POST("/machines/:name/resume", handleLifecycle(b, b.Resume))
	api.POST("/machines/:name/reset", handleLifecycle(b, b.Reset))

	api.GET("/events", handleEvents(b))
}

func handleList(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, b.Machines())
	}
}

func handleGet(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := machineDetail(b, c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func handleCreate(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body CreateBody
		if err := c.ShouldBindJSON(&body); err != nil {
			abortWithError(c, fmt.Errorf("%w: %w", vm.ErrInvalid, err))
			return
		}
		if body.MemoryMB == 0 {
			body.MemoryMB = definition.DefaultMemoryMB
		}

		err := b.CreateMachine(c.Request.Context(), vm.CreateRequest{
			Name:       body.Name,
			OSType:     body.OSType,
			MemoryMB:   body.MemoryMB,
			CPUCount:   body.CPUCount,
			DiskSizeGB: body.DiskSizeGB,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}

		detail, err := machineDetail(b, body.Name)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, detail)
	}
}

// handleSave stores a full definition. The body name defaults to the path
// name, and an empty UUID is taken from the stored definition so a body
// with a new name renames the machine.
func handleSave(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		var m definition.Machine
		if err := c.ShouldBindJSON(&m); err != nil {
			abortWithError(c, fmt.Errorf("%w: %w", vm.ErrInvalid, err))
			return
		}
		if m.Name == "" {
			m.Name = name
		}
		if m.UUID == "" {
			if existing, ok := b.GetDefinition(name); ok {
				m.UUID = existing.UUID
			}
		}

		if err := b.SaveConfiguration(c.Request.Context(), &m); err != nil {
			abortWithError(c, err)
			return
		}

		detail, err := machineDetail(b, m.Name)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

// handleDelete removes a machine. With force=1 a running machine is
// stopped first.
func handleDelete(b Backend, log hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		ctx := c.Request.Context()

		if force := c.Query("force"); force == "1" || force == "true" {
			if err := b.Stop(ctx, name); err != nil && !errors.Is(err, hypervisor.ErrNotRunning) {
				abortWithError(c, err)
				return
			}
			log.Debug("stopped before delete", "machine", name)
		}

		if err := b.Delete(ctx, name); err != nil {
			abortWithError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleCmdline(b Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		exe, args, err := b.Command(c.Param("name"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, CommandLine{Executable: exe, Args: args})
	}
}

func handleLifecycle(b Backend, op func(ctx context.Context, name string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := op(c.Request.Context(), name); err != nil {
			abortWithError(c, err)
			return
		}
		st, err := b.State(name)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func machineDetail(b Backend, name string) (*MachineDetail, error) {
	m, ok := b.GetDefinition(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", vm.ErrNotFound, name)
	}
	st, err := b.State(name)
	if err != nil {
		return nil, err
	}
	rec, err := b.History(name)
	if err != nil {
		return nil, err
	}
	return &MachineDetail{Definition: m, State: st, History: rec}, nil
}
