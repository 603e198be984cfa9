package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"sequelacore/internal/blob"
	"sequelacore/internal/request"
	"sequelacore/pkg/domain"
)

// VersionExport is the JSON document written for one set version.
type VersionExport struct {
	ExportID   string                   `json:"export_id"`
	ExportedAt time.Time                `json:"exported_at"`
	Set        domain.SequelaSet        `json:"set"`
	Version    domain.SequelaSetVersion `json:"version"`
	// ActiveRounds lists the rounds for which this version is active.
	ActiveRounds []int                 `json:"active_rounds"`
	Hierarchy    []domain.HierarchyRow `json:"hierarchy"`
	Rei          []domain.ReiRow       `json:"rei"`
}

func keyString(column string, id int) string {
	return column + "=" + strconv.Itoa(id)
}

func (s *Service) exportPrefix(versionID int) string {
	return fmt.Sprintf("%s/%d/", s.exportDir, versionID)
}

// BuildExport reads the export document of a version without writing it.
func (s *Service) BuildExport(ctx context.Context, versionID int) (VersionExport, error) {
	var out VersionExport
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		version, ok := v.FindSetVersion(versionID)
		if !ok {
			return domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: keyString(request.ColVersionID, versionID)}
		}
		set, _ := v.FindSet(version.SetID)
		out = VersionExport{
			Set:          set,
			Version:      version,
			ActiveRounds: []int{},
			Hierarchy:    v.ListHierarchyRows(versionID),
			Rei:          v.ListReiRows(versionID),
		}
		for _, a := range v.ListActiveVersions() {
			if a.VersionID == versionID {
				out.ActiveRounds = append(out.ActiveRounds, a.RoundID)
			}
		}
		return nil
	})
	return out, err
}

// ExportVersion writes the export document of a version to the blob store
// under versions/<id>/<export id>.json.
func (s *Service) ExportVersion(ctx context.Context, versionID int) (blob.Info, error) {
	var info blob.Info
	err := s.observe(ctx, "export_version", func(ctx context.Context) error {
		if s.blobs == nil {
			return ErrNoBlobStore
		}
		doc, err := s.BuildExport(ctx, versionID)
		if err != nil {
			return err
		}
		doc.ExportID = s.newID()
		doc.ExportedAt = s.now()
		payload, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode export: %w", err)
		}
		key := s.exportPrefix(versionID) + doc.ExportID + ".json"
		info, err = s.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: "application/json",
			Metadata: map[string]string{
				"export_id":  doc.ExportID,
				"version_id": strconv.Itoa(versionID),
				"set_id":     strconv.Itoa(doc.Version.SetID),
			},
		})
		return err
	})
	return info, err
}

// ListExports lists the exports written for a version, ordered by key.
func (s *Service) ListExports(ctx context.Context, versionID int) ([]blob.Info, error) {
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	return s.blobs.List(ctx, s.exportPrefix(versionID))
}

// ReadExport loads a previously written export document.
func (s *Service) ReadExport(ctx context.Context, key string) (VersionExport, error) {
	if s.blobs == nil {
		return VersionExport{}, ErrNoBlobStore
	}
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return VersionExport{}, err
	}
	defer func() { _ = rc.Close() }()
	var doc VersionExport
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return VersionExport{}, fmt.Errorf("decode export %s: %w", key, err)
	}
	return doc, nil
}
