package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"esgbu/internal/core"
	"esgbu/pkg/domain"
)

// catalogFile is the YAML layout accepted by the seed command.
type catalogFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Kind  string `yaml:"kind"`
		Order int    `yaml:"order"`
		Types []struct {
			Code      string `yaml:"code"`
			Name      string `yaml:"name"`
			Type      string `yaml:"type"`
			AdminOnly bool   `yaml:"admin_only"`
			Formula   string `yaml:"formula"`
		} `yaml:"types"`
	} `yaml:"groups"`
	Surveys []struct {
		Name string `yaml:"name"`
		Year int    `yaml:"year"`
	} `yaml:"surveys"`
}

type seedSummary struct {
	Groups     int `json:"groups"`
	DataTypes  int `json:"data_types"`
	Operations int `json:"operations"`
	Surveys    int `json:"surveys"`
}

func readCatalog(path string) (catalogFile, error) {
	var file catalogFile
	data, err := os.ReadFile(path)
	if err != nil {
		return file, fmt.Errorf("read catalog %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return file, nil
}

// seedCatalog creates groups and data types first so formulas may reference
// codes declared later in the file, then attaches the formulas in file order.
func seedCatalog(ctx context.Context, svc *core.Service, file catalogFile) (seedSummary, error) {
	var sum seedSummary
	type pending struct {
		id      int64
		code    string
		formula string
	}
	var ops []pending
	for _, g := range file.Groups {
		kind, err := domain.ParseAdministrationKind(g.Kind)
		if err != nil {
			return sum, fmt.Errorf("group %s: %w", g.Name, err)
		}
		group, err := svc.CreateDataGroup(ctx, domain.DataGroup{Name: g.Name, Kind: kind, DisplayOrder: g.Order})
		if err != nil {
			return sum, fmt.Errorf("group %s: %w", g.Name, err)
		}
		sum.Groups++
		for i, t := range g.Types {
			typ := domain.DataTypeKind(t.Type)
			if typ == "" {
				typ = domain.DataTypeNumber
			}
			if t.Formula != "" {
				typ = domain.DataTypeOperation
			}
			dt, err := svc.CreateDataType(ctx, domain.DataType{
				Code:              t.Code,
				Name:              t.Name,
				Type:              typ,
				GroupID:           group.ID,
				GroupOrder:        i + 1,
				AdministratorOnly: t.AdminOnly,
			})
			if err != nil {
				return sum, fmt.Errorf("data type %s: %w", t.Code, err)
			}
			sum.DataTypes++
			if t.Formula != "" {
				ops = append(ops, pending{id: dt.ID, code: dt.Code, formula: t.Formula})
			}
		}
	}
	for _, op := range ops {
		if _, err := svc.CreateOperation(ctx, op.id, op.formula); err != nil {
			return sum, fmt.Errorf("operation %s: %w", op.code, err)
		}
		sum.Operations++
	}
	for _, s := range file.Surveys {
		if _, err := svc.CreateSurvey(ctx, domain.Survey{Name: s.Name, CalendarYear: s.Year}); err != nil {
			return sum, fmt.Errorf("survey %s: %w", s.Name, err)
		}
		sum.Surveys++
	}
	return sum, nil
}
