package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/nimbus/internal/storage"
	"evalgo.org/nimbus/internal/validation"
	"evalgo.org/nimbus/models"
)

// listInstances returns one page of instances in the instance.sync payload shape.
// @Summary List instances
// @Description Returns a page of instances, optionally filtered by a case-insensitive name substring
// @Tags instances
// @Produce json
// @Param page query int false "Page number (0 based)" default(0)
// @Param pageCount query int false "Instances per page" default(50)
// @Param name query string false "Name filter"
// @Success 200 {object} models.DispatchData
// @Failure 400 {object} APIError
// @Router /instances [get]
func (s *Server) listInstances(c echo.Context) error {
	page, pageCount := parsePagination(c)

	var filter models.Filter
	if name := c.QueryParam("name"); name != "" {
		filter.Name = models.String(name)
	}

	all, err := s.store.ListInstances(filter)
	if err != nil {
		return InternalError("Failed to list instances", err.Error())
	}

	data := models.DispatchData{
		Instances: paginate(all, page, pageCount),
		Page:      models.Int(page),
		PageCount: models.Int(pageCount),
		Count:     models.Int(len(all)),
	}
	if !filter.IsEmpty() {
		data.Filter = &filter
	}

	return c.JSON(http.StatusOK, data)
}

// getInstance returns a single instance.
// @Summary Get instance
// @Tags instances
// @Produce json
// @Param id path string true "Instance ID"
// @Success 200 {object} models.Instance
// @Failure 404 {object} APIError
// @Router /instances/{id} [get]
func (s *Server) getInstance(c echo.Context) error {
	id := c.Param("id")

	inst, err := s.store.GetInstance(id)
	if err != nil {
		return StorageError("Instance", id, err)
	}

	return c.JSON(http.StatusOK, inst)
}

// createInstance stores a new instance. A missing id is generated.
// @Summary Create instance
// @Tags instances
// @Accept json
// @Produce json
// @Param instance body models.Instance true "Instance"
// @Success 201 {object} models.Instance
// @Failure 400 {object} APIError
// @Failure 409 {object} APIError
// @Router /instances [post]
func (s *Server) createInstance(c echo.Context) error {
	inst, err := s.readInstance(c)
	if err != nil {
		return err
	}

	if inst.ID == "" {
		inst.ID = models.GenerateID("instance")
	}

	_, err = s.store.GetInstance(inst.ID)
	switch {
	case err == nil:
		return ConflictError("Instance already exists", inst.ID)
	case !errors.Is(err, storage.ErrNotFound):
		return InternalError("Failed to check instance", err.Error())
	}

	validation.Normalize(&inst)
	if inst.Status == nil {
		inst.RefreshStatus()
	}

	if err := s.store.SaveInstance(&inst); err != nil {
		return InternalError("Failed to save instance", err.Error())
	}

	ctx := c.Request().Context()
	s.publishMutation(ctx, models.ChangeDispatch(inst.ID, &inst), inst.GetNode())

	return c.JSON(http.StatusCreated, inst)
}

// updateInstance merges the fields present in the body into an instance.
// @Summary Update instance
// @Description Partial update: absent fields keep their value, present but empty fields replace it
// @Tags instances
// @Accept json
// @Produce json
// @Param id path string true "Instance ID"
// @Param instance body models.Instance true "Fields to change"
// @Success 200 {object} models.Instance
// @Failure 400 {object} APIError
// @Failure 404 {object} APIError
// @Router /instances/{id} [put]
func (s *Server) updateInstance(c echo.Context) error {
	id := c.Param("id")

	update, err := s.readInstance(c)
	if err != nil {
		return err
	}
	if update.ID != "" && update.ID != id {
		return BadRequestError("ID mismatch", "body id must match the path id")
	}

	inst, err := s.store.GetInstance(id)
	if err != nil {
		return StorageError("Instance", id, err)
	}
	oldNode := inst.GetNode()

	inst.Merge(update)
	validation.Normalize(inst)
	if update.Status == nil {
		inst.RefreshStatus()
	}

	if err := s.store.SaveInstance(inst); err != nil {
		return StorageError("Instance", id, err)
	}

	ctx := c.Request().Context()
	s.publishMutation(ctx, models.ChangeDispatch(id, inst), oldNode, inst.GetNode())

	return c.JSON(http.StatusOK, inst)
}

// deleteInstance removes an instance.
// @Summary Delete instance
// @Tags instances
// @Param id path string true "Instance ID"
// @Success 204
// @Failure 404 {object} APIError
// @Router /instances/{id} [delete]
func (s *Server) deleteInstance(c echo.Context) error {
	id := c.Param("id")

	inst, err := s.store.GetInstance(id)
	if err != nil {
		return StorageError("Instance", id, err)
	}

	if err := s.store.DeleteInstance(id); err != nil {
		return StorageError("Instance", id, err)
	}

	ctx := c.Request().Context()
	s.publishMutation(ctx, models.ChangeDispatch(id, nil), inst.GetNode())

	return c.NoContent(http.StatusNoContent)
}

// getInstanceInfo returns the auxiliary info of an instance.
// @Summary Get instance info
// @Tags instances
// @Produce json
// @Param id path string true "Instance ID"
// @Success 200 {object} models.Info
// @Failure 404 {object} APIError
// @Router /instances/{id}/info [get]
func (s *Server) getInstanceInfo(c echo.Context) error {
	id := c.Param("id")

	info, err := s.store.GetInfo(id)
	if err != nil {
		return StorageError("Instance", id, err)
	}

	return c.JSON(http.StatusOK, info)
}

// updateInstanceInfo replaces the auxiliary info of an instance.
// @Summary Replace instance info
// @Tags instances
// @Accept json
// @Produce json
// @Param id path string true "Instance ID"
// @Param info body models.Info true "Info"
// @Success 200 {object} models.Info
// @Failure 404 {object} APIError
// @Router /instances/{id}/info [put]
func (s *Server) updateInstanceInfo(c echo.Context) error {
	id := c.Param("id")

	var info models.Info
	if err := json.NewDecoder(c.Request().Body).Decode(&info); err != nil {
		return BadRequestError("Invalid JSON", err.Error())
	}
	info.Instance = models.String(id)

	if err := s.store.SaveInfo(id, info); err != nil {
		return StorageError("Instance", id, err)
	}

	return c.JSON(http.StatusOK, info)
}

// readInstance reads and validates an instance document from the body.
// The id is not required.
func (s *Server) readInstance(c echo.Context) (models.Instance, error) {
	var inst models.Instance

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return inst, BadRequestError("Failed to read request body", err.Error())
	}

	result, err := s.validator.ValidateUpdate(body)
	if err != nil {
		return inst, InternalError("Validation error", err.Error())
	}
	if !result.Valid {
		return inst, InvalidDocumentError(result)
	}

	if err := json.Unmarshal(body, &inst); err != nil {
		return inst, BadRequestError("Invalid JSON", err.Error())
	}
	return inst, nil
}
