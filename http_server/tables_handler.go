package http_server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/icelake/lake"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/schema"
	"github.com/danthegoodman1/icelake/utils"
)

type (
	ColumnSpec struct {
		Name     string `validate:"required"`
		Type     string `validate:"required"`
		Nullable bool
	}

	CreateTableReqBody struct {
		Namespace string `validate:"required"`
		Name      string `validate:"required"`
		// Storage prefix for data files; defaults to <WAREHOUSE_PREFIX>/<namespace>/<name>/
		TablePath       string
		RangePartitions []string
		PrimaryKeys     []string
		CDCColumn       string
		Columns         []ColumnSpec `validate:"required,min=1,dive"`
	}

	TableResBody struct {
		Namespace       string
		Name            string
		TablePath       string
		RangePartitions []string
		PrimaryKeys     []string
		CDCColumn       string
		Columns         []ColumnSpec
	}

	ListTablesResBody struct {
		Tables []TableResBody
	}
)

func (s *HTTPServer) CreateTableHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*10)
	defer cancel()

	var reqBody CreateTableReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	defer c.Request().Body.Close()

	fields := make([]schema.Field, 0, len(reqBody.Columns))
	for _, col := range reqBody.Columns {
		ft, err := parseFieldType(col.Type)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		fields = append(fields, schema.Field{
			Name:     col.Name,
			Type:     ft,
			Nullable: col.Nullable,
		})
	}

	tablePath := reqBody.TablePath
	if tablePath == "" {
		tablePath = fmt.Sprintf("%s/%s/%s/", utils.GetEnvOrDefault("WAREHOUSE_PREFIX", "warehouse"), reqBody.Namespace, reqBody.Name)
	}

	err := s.Lake.CreateTable(ctx, metastore.TableInfo{
		Namespace:       reqBody.Namespace,
		Name:            reqBody.Name,
		TablePath:       tablePath,
		RangePartitions: reqBody.RangePartitions,
		PrimaryKeys:     reqBody.PrimaryKeys,
		CDCColumn:       reqBody.CDCColumn,
		Schema:          schema.New(fields...),
	})
	if err != nil {
		if errors.Is(err, metastore.ErrTableExists) {
			return c.String(http.StatusConflict, "table already exists")
		}
		if errors.Is(err, lake.ErrInvalidTableSpec) {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.InternalError(err, "error creating table")
	}

	return c.String(http.StatusCreated, "created")
}

func (s *HTTPServer) ListTablesHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*10)
	defer cancel()

	tables, err := s.Lake.ListTables(ctx, c.Param("namespace"))
	if err != nil {
		return c.InternalError(err, "error listing tables")
	}

	res := ListTablesResBody{Tables: make([]TableResBody, 0, len(tables))}
	for _, info := range tables {
		res.Tables = append(res.Tables, tableResBody(info))
	}
	return c.JSON(http.StatusOK, res)
}

func (s *HTTPServer) GetTableHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*10)
	defer cancel()

	info, err := s.Lake.TableInfo(ctx, c.Param("namespace"), c.Param("table"))
	if err != nil {
		if errors.Is(err, metastore.ErrTableNotFound) {
			return c.String(http.StatusNotFound, "table not found")
		}
		return c.InternalError(err, "error getting table info")
	}
	return c.JSON(http.StatusOK, tableResBody(info))
}

func tableResBody(info metastore.TableInfo) TableResBody {
	cols := make([]ColumnSpec, 0, info.Schema.NumFields())
	for _, f := range info.Schema.Fields {
		cols = append(cols, ColumnSpec{
			Name:     f.Name,
			Type:     string(f.Type),
			Nullable: f.Nullable,
		})
	}
	return TableResBody{
		Namespace:       info.Namespace,
		Name:            info.Name,
		TablePath:       info.TablePath,
		RangePartitions: utils.ArrayOrEmpty(info.RangePartitions),
		PrimaryKeys:     utils.ArrayOrEmpty(info.PrimaryKeys),
		CDCColumn:       info.CDCColumn,
		Columns:         cols,
	}
}

func parseFieldType(s string) (schema.FieldType, error) {
	switch schema.FieldType(strings.ToLower(s)) {
	case schema.String:
		return schema.String, nil
	case schema.Int64:
		return schema.Int64, nil
	case schema.Uint64:
		return schema.Uint64, nil
	case schema.Float64:
		return schema.Float64, nil
	case schema.Bool:
		return schema.Bool, nil
	default:
		return "", fmt.Errorf("unknown column type %s", s)
	}
}
