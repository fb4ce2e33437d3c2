// Package controllers implements the HTTP handlers of the acquisition API.
package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/modelpull/modelpull/pkg/coordinator"
	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
	"github.com/modelpull/modelpull/pkg/metadata"
	"github.com/modelpull/modelpull/pkg/model"
)

// AcquisitionController serves the pull, task and model endpoints.
type AcquisitionController struct {
	Coordinator *coordinator.Coordinator
	Catalog     *model.Catalog
	Store       metadata.Store
}

// HandlePull starts acquiring a catalog model and returns the task id.
func (ctrl *AcquisitionController) HandlePull(c *echo.Context) error {
	id := c.Param("id")

	var req PullRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body"})
	}

	var desc *model.Descriptor
	var err error
	if req.Version != "" {
		desc, err = ctrl.Catalog.FindVersion(id, req.Version)
	} else {
		desc, err = ctrl.Catalog.Find(id)
	}
	if err != nil {
		if errors.Is(err, pkgerrors.ErrModelNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}

	// Acquisitions outlive the request, so they do not inherit its context.
	task, err := ctrl.Coordinator.Acquire(context.Background(), desc)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusAccepted, PullResponse{TaskID: task.ID(), ModelID: task.ModelID()})
}

// HandleListTasks returns all known tasks, finished ones included.
func (ctrl *AcquisitionController) HandleListTasks(c *echo.Context) error {
	tasks := ctrl.Coordinator.Tasks()
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return c.JSON(http.StatusOK, out)
}

// HandleGetTask returns one task by id.
func (ctrl *AcquisitionController) HandleGetTask(c *echo.Context) error {
	task, err := ctrl.Coordinator.Task(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, taskResponse(task))
}

// HandleCancelTask requests cancellation of an in-flight task.
func (ctrl *AcquisitionController) HandleCancelTask(c *echo.Context) error {
	if err := ctrl.Coordinator.Cancel(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusAccepted)
}

// HandleListModels returns the acquired models recorded in the metadata store.
func (ctrl *AcquisitionController) HandleListModels(c *echo.Context) error {
	entries, err := ctrl.Store.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	out := make([]ModelResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ModelResponse{
			ModelID:    e.ModelID,
			LocalPath:  e.LocalPath,
			SizeBytes:  e.SizeBytes,
			AcquiredAt: e.AcquiredAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func taskResponse(t *coordinator.Task) TaskResponse {
	resp := TaskResponse{
		ID:        t.ID(),
		ModelID:   t.ModelID(),
		Stage:     string(t.Stage()),
		Resumable: t.ResumeToken() != nil,
	}
	if err := t.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}
