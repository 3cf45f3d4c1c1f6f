package controller

import (
	"fmt"
	"strconv"

	"analytics-console/internal/constant"
	"analytics-console/internal/dto"
	"analytics-console/internal/pkg/serverutils"
	"analytics-console/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IConsoleController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	GetSession(ctx *fiber.Ctx) error
	UploadDataset(ctx *fiber.Ctx) error
	RemoveDataset(ctx *fiber.Ctx) error
	ConnectRelational(ctx *fiber.Ctx) error
	DisconnectRelational(ctx *fiber.Ctx) error
	IndexDocument(ctx *fiber.Ctx) error
	RemoveDocument(ctx *fiber.Ctx) error
	Reset(ctx *fiber.Ctx) error
	SetMode(ctx *fiber.Ctx) error
	GetConversation(ctx *fiber.Ctx) error
	SendQuery(ctx *fiber.Ctx) error
	GetSuggestions(ctx *fiber.Ctx) error
	SetSelection(ctx *fiber.Ctx) error
	ToggleSelection(ctx *fiber.Ctx) error
	ExportSelection(ctx *fiber.Ctx) error
	PinMessage(ctx *fiber.Ctx) error
	GetReport(ctx *fiber.Ctx) error
}

type consoleController struct {
	service service.IConsoleService
}

func NewConsoleController(service service.IConsoleService) IConsoleController {
	return &consoleController{service: service}
}

func (c *consoleController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/console/v1")
	h.Use(auth)

	h.Get("/session", c.GetSession)
	h.Post("/session/dataset", c.UploadDataset)
	h.Delete("/session/dataset", c.RemoveDataset)
	h.Post("/session/relational", c.ConnectRelational)
	h.Delete("/session/relational", c.DisconnectRelational)
	h.Post("/session/document", c.IndexDocument)
	h.Delete("/session/document", c.RemoveDocument)
	h.Post("/session/reset", c.Reset)
	h.Put("/mode", c.SetMode)

	h.Get("/chat/:mode", c.GetConversation)
	h.Post("/chat/:mode", c.SendQuery)
	h.Post("/chat/:mode/:ordinal/pin", c.PinMessage)
	h.Get("/suggestions/:mode", c.GetSuggestions)

	h.Put("/selection", c.SetSelection)
	h.Post("/selection/export", c.ExportSelection)
	h.Post("/selection/:index", c.ToggleSelection)

	h.Get("/report", c.GetReport)
}

func userID(ctx *fiber.Ctx) (string, error) {
	id, ok := ctx.Locals("user_id").(string)
	if !ok || id == "" {
		return "", fiber.ErrUnauthorized
	}
	return id, nil
}

func intParam(ctx *fiber.Ctx, name string) (int, error) {
	v, err := strconv.Atoi(ctx.Params(name))
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s must be an integer", name))
	}
	return v, nil
}

func (c *consoleController) GetSession(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.GetSession(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get session", res))
}

func (c *consoleController) UploadDataset(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	file, err := ctx.FormFile(constant.UploadFormField)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Dataset file is required")
	}
	f, err := file.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := c.service.UploadDataset(ctx.UserContext(), userId, file.Filename, f)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success upload dataset", res))
}

func (c *consoleController) RemoveDataset(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.RemoveDataset(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success remove dataset", res))
}

func (c *consoleController) ConnectRelational(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	var req dto.ConnectRelationalRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.ConnectRelational(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success connect database", res))
}

func (c *consoleController) DisconnectRelational(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.DisconnectRelational(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success disconnect database", res))
}

func (c *consoleController) IndexDocument(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	file, err := ctx.FormFile(constant.UploadFormField)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Document file is required")
	}
	f, err := file.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := c.service.IndexDocument(ctx.UserContext(), userId, file.Filename, f)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success index document", res))
}

func (c *consoleController) RemoveDocument(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.RemoveDocument(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success remove document", res))
}

func (c *consoleController) Reset(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Reset(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success reset session", res))
}

func (c *consoleController) SetMode(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	var req dto.SetModeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.SetMode(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success set mode", res))
}

func (c *consoleController) GetConversation(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.GetConversation(ctx.UserContext(), userId, ctx.Params("mode"))
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get conversation", res))
}

func (c *consoleController) SendQuery(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	var req dto.SendQueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.SendQuery(ctx.UserContext(), userId, ctx.Params("mode"), &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Query accepted", res))
}

func (c *consoleController) GetSuggestions(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	force := ctx.QueryBool("force", false)
	res, err := c.service.GetSuggestions(ctx.UserContext(), userId, ctx.Params("mode"), force)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get suggestions", res))
}

func (c *consoleController) SetSelection(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	var req dto.SetSelectionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.SetSelection(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success set selection mode", res))
}

func (c *consoleController) ToggleSelection(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}
	index, err := intParam(ctx, "index")
	if err != nil {
		return err
	}

	res, err := c.service.ToggleSelection(ctx.UserContext(), userId, index)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success toggle selection", res))
}

func (c *consoleController) ExportSelection(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.ExportSelection(ctx.UserContext(), userId)
	if err != nil {
		return err
	}

	ctx.Set(fiber.HeaderContentType, res.ContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, res.Filename))
	if res.ArchiveKey != "" {
		ctx.Set(constant.HeaderArchiveKey, res.ArchiveKey)
	}
	if res.ArchiveURL != "" {
		ctx.Set(constant.HeaderArchiveURL, res.ArchiveURL)
	}
	return ctx.Send(res.Data)
}

func (c *consoleController) PinMessage(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}
	ordinal, err := intParam(ctx, "ordinal")
	if err != nil {
		return err
	}

	res, err := c.service.PinMessage(ctx.UserContext(), userId, ctx.Params("mode"), ordinal)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Pinned to dashboard", res))
}

func (c *consoleController) GetReport(ctx *fiber.Ctx) error {
	userId, err := userID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.GetReport(ctx.UserContext(), userId)
	if err != nil {
		return err
	}

	ctx.Set(fiber.HeaderContentType, res.ContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, res.Filename))
	ctx.Set(constant.HeaderReportSource, res.Source)
	return ctx.Send(res.Data)
}
