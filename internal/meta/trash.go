package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fmeta-go/internal/model"
)

// Delete moves node, and every live node below it, to the trash. Guids pointing
// at a deleted node follow it to its tombstone. Deleting an already trashed id
// returns the existing tombstone.
func (s *MetaService) Delete(ctx context.Context, node *model.FileNode, actor string) (*model.TrashedFileNode, error) {
	var tomb *model.TrashedFileNode
	err := s.database.InTx(ctx, func(st Store) error {
		var err error
		tomb, err = s.deleteNode(ctx, st, node.ID, actor)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deleting %s: %w", node.ID, err)
	}
	s.logger.Info("node trashed", "id", tomb.ID, "kind", tomb.Kind, "actor", actor)
	return tomb, nil
}

func (s *MetaService) deleteNode(ctx context.Context, st Store, id, actor string) (*model.TrashedFileNode, error) {
	live, err := st.FindNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if live == nil {
		tomb, err := st.FindTrashedByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tomb == nil {
			return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
		}
		return tomb, nil
	}
	if live.IsRoot() {
		return nil, &ConflictError{
			Message:      "cannot delete a provider root folder",
			ResourceType: string(model.KindFolder),
			ResourceID:   id,
		}
	}

	tomb := &model.TrashedFileNode{
		FileNode:  *live,
		DeletedBy: actor,
		DeletedAt: s.clock.Now(),
	}
	tomb.CheckoutUserID = sql.NullString{}
	if err := st.UpsertTrashed(ctx, tomb); err != nil {
		return nil, err
	}
	if _, err := st.RepointGuidsByReferent(ctx, ReferentFile, id, ReferentTrashedFile, id); err != nil {
		return nil, err
	}

	// Children keep their parent id, which now names the tombstone.
	if !live.IsFile() {
		children, err := st.FindChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, err := s.deleteNode(ctx, st, child.ID, actor); err != nil {
				return nil, fmt.Errorf("deleting child %s: %w", child.ID, err)
			}
		}
	}

	if err := st.DeleteNode(ctx, id); err != nil {
		return nil, err
	}
	return tomb, nil
}

// Restore rebuilds the live node of a tombstone under destParentID, or under its
// original parent when destParentID is empty. With recursive set, trashed
// children are restored beneath it. Guids pointing at restored tombstones
// follow them back. Restoring an id that is already live returns the live node.
func (s *MetaService) Restore(ctx context.Context, tombstoneID string, destParentID string, recursive bool) (*model.FileNode, error) {
	var node *model.FileNode
	err := s.database.InTx(ctx, func(st Store) error {
		var err error
		node, err = s.restoreNode(ctx, st, tombstoneID, destParentID, recursive)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", tombstoneID, err)
	}
	s.logger.Info("node restored", "id", node.ID, "parent", node.ParentID.String, "recursive", recursive)
	return node, nil
}

func (s *MetaService) restoreNode(ctx context.Context, st Store, id, destParentID string, recursive bool) (*model.FileNode, error) {
	tomb, err := st.FindTrashedByID(ctx, id)
	if err != nil {
		return nil, err
	}
	live, err := st.FindNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if live != nil {
		// A previous restore got as far as recreating the node.
		if tomb != nil {
			if err := s.finishRestore(ctx, st, id); err != nil {
				return nil, err
			}
		}
		return live, nil
	}
	if tomb == nil {
		return nil, fmt.Errorf("trashed node %s: %w", id, ErrNotFound)
	}

	parentID := destParentID
	if parentID == "" && tomb.ParentID.Valid {
		parentID = tomb.ParentID.String
	}
	if parentID == "" {
		return nil, &ConflictError{
			Message:      "cannot restore a root folder without a destination parent",
			ResourceType: ReferentTrashedFile,
			ResourceID:   id,
		}
	}
	parent, err := st.FindNodeByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.IsFile() {
		return nil, &ConflictError{
			Message:      fmt.Sprintf("destination folder %s does not exist", parentID),
			ResourceType: string(model.KindFolder),
			ResourceID:   parentID,
		}
	}
	if parent.Provider != tomb.Provider {
		return nil, &ConflictError{
			Message:      fmt.Sprintf("cannot restore a %s node into a %s folder", tomb.Provider, parent.Provider),
			ResourceType: string(model.KindFolder),
			ResourceID:   parentID,
		}
	}
	p, err := s.provider(tomb.Provider)
	if err != nil {
		return nil, err
	}

	node := tomb.FileNode
	node.ProjectID = parent.ProjectID
	node.ParentID = nullString(parent.ID)
	node.ModifiedAt = s.clock.Now()
	// Under an unmoved original parent the stored paths still hold.
	reparented := !tomb.ParentID.Valid || parent.ID != tomb.ParentID.String ||
		parentPath(tomb.Path) != parent.Path
	if reparented && !p.BuiltIn {
		segment := baseName(tomb.Path)
		suffix := ""
		if !node.IsFile() {
			suffix = "/"
		}
		node.Path = parent.Path + segment + suffix
		node.MaterializedPath = materializedOrPath(parent) + baseName(materializedOrPath(&tomb.FileNode)) + suffix
	}
	if err := st.CreateNode(ctx, &node); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, &ConflictError{
				Message:      fmt.Sprintf("cannot restore %q: a %s with that name already exists", node.Name, node.Kind),
				ResourceType: string(node.Kind),
				ResourceID:   id,
			}
		}
		return nil, err
	}

	if recursive && !node.IsFile() {
		children, err := st.FindTrashedChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, err := s.restoreNode(ctx, st, child.ID, node.ID, true); err != nil {
				return nil, fmt.Errorf("restoring child %s: %w", child.ID, err)
			}
		}
	}

	if err := s.finishRestore(ctx, st, id); err != nil {
		return nil, err
	}
	return &node, nil
}

// finishRestore points the tombstone's Guids back at the live node and drops the tombstone.
func (s *MetaService) finishRestore(ctx context.Context, st Store, id string) error {
	if _, err := st.RepointGuidsByReferent(ctx, ReferentTrashedFile, id, ReferentFile, id); err != nil {
		return err
	}
	return st.DeleteTrashed(ctx, id)
}

// FindTrashed returns a tombstone by id.
func (s *MetaService) FindTrashed(ctx context.Context, id string) (*model.TrashedFileNode, error) {
	t, err := s.database.FindTrashedByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("trashed node %s: %w", id, ErrNotFound)
	}
	return t, nil
}
