// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package latenttb

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type geneRow struct {
	bun.BaseModel `bun:"table:de_results,alias:r"`

	Gene           string   `bun:"gene,pk"`
	BaseMean       float64  `bun:"base_mean,notnull"`
	Log2FoldChange *float64 `bun:"log2_fold_change"`
	LfcSE          *float64 `bun:"lfc_se"`
	Stat           *float64 `bun:"stat"`
	PValue         *float64 `bun:"pvalue"`
	PAdj           *float64 `bun:"padj"`
	Adjusted       *float64 `bun:"bh_adj"`
	Dispersion     *float64 `bun:"dispersion"`
	MaxCooks       *float64 `bun:"max_cooks"`
	Status         string   `bun:"status,notnull"`
	Selected       bool     `bun:"selected,notnull"`
}

type sizeFactorRow struct {
	bun.BaseModel `bun:"table:size_factors,alias:sf"`

	Sample     string  `bun:"sample,pk"`
	Condition  string  `bun:"condition,notnull"`
	SizeFactor float64 `bun:"size_factor,notnull"`
}

type runRow struct {
	bun.BaseModel `bun:"table:runs,alias:run"`

	ID          int64     `bun:"id,pk,autoincrement"`
	InputDigest string    `bun:"input_digest"`
	Report      string    `bun:"report"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// openResultsDB opens (creating if needed) a SQLite results
// database.
func openResultsDB(dsn string, debug bool) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	if _, err := db.Exec(`
        PRAGMA journal_mode = WAL;
        PRAGMA synchronous = NORMAL;
    `); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// writeResultsDB stores results, size factors, and the run report
// in a SQLite database at dsn. Existing result and size factor rows
// are replaced; runs accumulate. Undefined values are stored as
// NULL.
func writeResultsDB(ctx context.Context, dsn string, a *Analysis, debug bool) error {
	log.Infof("writing results database %s", dsn)
	db, err := openResultsDB(dsn, debug)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, model := range []interface{}{(*geneRow)(nil), (*sizeFactorRow)(nil), (*runRow)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_de_results_bh_adj ON de_results(bh_adj)"); err != nil {
		return err
	}

	selected := make(map[string]bool, len(a.Selected))
	for _, g := range a.Selected {
		selected[g] = true
	}
	genes := make([]geneRow, len(a.Results))
	for i, r := range a.Results {
		genes[i] = geneRow{
			Gene:           r.Gene,
			BaseMean:       r.BaseMean,
			Log2FoldChange: nullable(r.Log2FoldChange),
			LfcSE:          nullable(r.LfcSE),
			Stat:           nullable(r.Stat),
			PValue:         nullable(r.PValue),
			PAdj:           nullable(r.PAdj),
			Adjusted:       nullable(r.Adjusted),
			Dispersion:     nullable(r.Dispersion),
			MaxCooks:       nullable(r.MaxCooks),
			Status:         r.Status.String(),
			Selected:       selected[r.Gene],
		}
		if r.Status == StatusLowInformation {
			genes[i].Dispersion = nil
		}
	}
	sfs := make([]sizeFactorRow, len(a.SizeFactors))
	for s, v := range a.SizeFactors {
		cond := a.Design.Reference
		if a.Design.IsAlt[s] {
			cond = a.Design.Alternative
		}
		sfs[s] = sizeFactorRow{Sample: a.Filtered.Samples[s], Condition: cond, SizeFactor: v}
	}
	report, err := json.Marshal(a.Report)
	if err != nil {
		return err
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*geneRow)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*sizeFactorRow)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}
		if len(genes) > 0 {
			if _, err := tx.NewInsert().Model(&genes).Exec(ctx); err != nil {
				return err
			}
		}
		if len(sfs) > 0 {
			if _, err := tx.NewInsert().Model(&sfs).Exec(ctx); err != nil {
				return err
			}
		}
		run := &runRow{InputDigest: a.Report.InputDigest, Report: string(report)}
		_, err := tx.NewInsert().Model(run).Exec(ctx)
		return err
	})
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
