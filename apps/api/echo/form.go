package echoapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/studenthub/core"
	"github.com/trezcool/studenthub/core/form"
	"github.com/trezcool/studenthub/core/user"
)

type formApi struct {
	svc       form.Service
	usrSvc    user.Service
	fileStore core.FileStorage
	validate  *validator.Validate
}

func registerFormAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc form.Service,
	usrSvc user.Service,
	fileStore core.FileStorage,
	validate *validator.Validate,
) {
	api := formApi{
		svc:       svc,
		usrSvc:    usrSvc,
		fileStore: fileStore,
		validate:  validate,
	}

	fg := g.Group("/forms", jwt)
	fg.POST("", api.create, staffMiddleware())
	fg.GET("", api.query)
	fg.GET("/:id", api.retrieve)
	fg.PUT("/:id", api.update, staffMiddleware())
	fg.DELETE("/:id", api.destroy, staffMiddleware())

	fg.GET("/:id/eligibility", api.eligibility)
	fg.POST("/:id/submit", api.submit)
	fg.GET("/:id/submissions", api.querySubmissions, staffMiddleware())
	fg.GET("/:id/submissions/download", api.downloadSubmissions, staffMiddleware())
	fg.GET("/:id/submissions/:studentID", api.retrieveSubmission)

	g.GET("/media/*", api.downloadFile, jwt, staffMiddleware())
}

// Handlers

func (api *formApi) create(ctx echo.Context) error {
	var data form.NewForm
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewForm")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	frm, err := api.svc.Create(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "creating form")
	}
	return ctx.JSON(http.StatusCreated, frm)
}

func (api *formApi) query(ctx echo.Context) error {
	filter := new(form.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []form.Form{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	forms, err := api.svc.Query(ctx.Request().Context(), ctxUsr, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying forms")
	}
	if forms == nil {
		forms = []form.Form{}
	}
	return ctx.JSON(http.StatusOK, forms)
}

func (api *formApi) retrieve(ctx echo.Context) error {
	frm, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting form")
	}
	return ctx.JSON(http.StatusOK, frm)
}

func (api *formApi) update(ctx echo.Context) error {
	var data form.UpdateForm
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateForm")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	frm, err := api.svc.Update(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating form")
	}
	return ctx.JSON(http.StatusOK, frm)
}

func (api *formApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err = api.svc.Delete(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting form")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *formApi) eligibility(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	elig, err := api.svc.Eligibility(ctx.Request().Context(), ctxUsr, ctx.Param("id"), time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "evaluating eligibility")
	}
	return ctx.JSON(http.StatusOK, elig)
}

func (api *formApi) submit(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data form.NewSubmission
	if strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		if data, err = api.bindMultipartSubmission(ctx); err != nil {
			return err
		}
	} else if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Submit(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting form")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

// bindMultipartSubmission reads a multipart submit request: the "data"
// part holds the answers as JSON; each file answer comes as a file part
// named after its field label and is stored before the submission is
// handed to the service.
func (api *formApi) bindMultipartSubmission(ctx echo.Context) (form.NewSubmission, error) {
	var data form.NewSubmission

	raw := ctx.FormValue("data")
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &data.Data); err != nil {
			return data, core.NewValidationError(errors.Wrap(err, "decoding submission data"))
		}
	}

	mpForm, err := ctx.MultipartForm()
	if err != nil {
		return data, errors.Wrap(err, "reading multipart form")
	}
	for label, headers := range mpForm.File {
		if len(headers) == 0 {
			continue
		}
		src, err := headers[0].Open()
		if err != nil {
			return data, errors.Wrap(err, "opening upload")
		}
		ref, err := api.fileStore.Save(
			ctx.Request().Context(),
			path.Join("submissions", ctx.Param("id")),
			headers[0].Filename,
			src,
		)
		_ = src.Close()
		if err != nil {
			return data, errors.Wrap(err, "storing upload")
		}
		data.Data = append(data.Data, form.FieldValue{
			Label:   label,
			Type:    form.FieldTypeFile,
			FileRef: ref,
		})
	}
	return data, nil
}

func (api *formApi) retrieveSubmission(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	sub, err := api.svc.GetSubmission(ctx.Request().Context(), ctxUsr, ctx.Param("id"), ctx.Param("studentID"))
	if err != nil {
		return errors.Wrap(err, "getting submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *formApi) querySubmissions(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	subs, err := api.svc.QuerySubmissions(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []form.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *formApi) downloadSubmissions(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	// buffer the export so permission errors still map to a JSON response
	var buf bytes.Buffer
	if err = api.svc.ExportSubmissionsCSV(ctx.Request().Context(), ctxUsr, ctx.Param("id"), &buf); err != nil {
		return errors.Wrap(err, "exporting submissions")
	}

	ctx.Response().Header().Set(
		echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=submissions-%s.csv", ctx.Param("id")),
	)
	return ctx.Blob(http.StatusOK, "text/csv", buf.Bytes())
}

func (api *formApi) downloadFile(ctx echo.Context) error {
	ref := ctx.Param("*")
	src, err := api.fileStore.Open(ctx.Request().Context(), ref)
	if err != nil {
		return errHttpNotFound
	}
	defer func() { _ = src.Close() }()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentDisposition, "attachment; filename="+path.Base(ref))
	res.Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	res.WriteHeader(http.StatusOK)
	_, err = io.Copy(res, src)
	return errors.Wrap(err, "streaming media file")
}
