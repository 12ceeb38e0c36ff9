package meta

import (
	"context"
	"fmt"

	"fmeta-go/internal/model"
)

// Referent names the entity a Guid currently points at.
type Referent struct {
	Kind string
	ID   string
}

func (r Referent) String() string { return r.Kind + ":" + r.ID }

// FileReferent names a live file or folder.
func FileReferent(id string) Referent { return Referent{Kind: ReferentFile, ID: id} }

// TrashedReferent names a tombstone.
func TrashedReferent(id string) Referent { return Referent{Kind: ReferentTrashedFile, ID: id} }

// GuidTarget is a resolved Guid. Exactly one of Node and Trashed is set for
// file referents; other referent kinds carry only the Referent.
type GuidTarget struct {
	Guid     *model.Guid
	Referent Referent
	Node     *model.FileNode
	Trashed  *model.TrashedFileNode
}

// GuidFor returns the Guid pointing at ref, creating one on first use.
func (s *MetaService) GuidFor(ctx context.Context, ref Referent) (*model.Guid, error) {
	var guid *model.Guid
	err := s.database.InTx(ctx, func(st Store) error {
		var err error
		guid, err = s.guidFor(ctx, st, ref)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("guid for %s: %w", ref, err)
	}
	return guid, nil
}

func (s *MetaService) guidFor(ctx context.Context, st Store, ref Referent) (*model.Guid, error) {
	existing, err := st.FindGuidsByReferent(ctx, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	if err := referentExists(ctx, st, ref); err != nil {
		return nil, err
	}

	guid := &model.Guid{
		ID:           s.idgen.New(),
		ReferentKind: ref.Kind,
		ReferentID:   ref.ID,
		CreatedAt:    s.clock.Now(),
	}
	if err := st.CreateGuid(ctx, guid); err != nil {
		return nil, err
	}
	s.logger.Debug("guid created", "guid", guid.ID, "referent", ref.String())
	return guid, nil
}

func referentExists(ctx context.Context, st Store, ref Referent) error {
	switch ref.Kind {
	case ReferentFile:
		n, err := st.FindNodeByID(ctx, ref.ID)
		if err != nil {
			return err
		}
		if n == nil {
			return fmt.Errorf("node %s: %w", ref.ID, ErrNotFound)
		}
	case ReferentTrashedFile:
		t, err := st.FindTrashedByID(ctx, ref.ID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("trashed node %s: %w", ref.ID, ErrNotFound)
		}
	}
	return nil
}

// ResolveGuid returns the current referent of guidID, or nil when no such Guid exists.
func (s *MetaService) ResolveGuid(ctx context.Context, guidID string) (*Referent, error) {
	g, err := s.database.FindGuid(ctx, guidID)
	if err != nil || g == nil {
		return nil, err
	}
	return &Referent{Kind: g.ReferentKind, ID: g.ReferentID}, nil
}

// LookupGuid resolves guidID and loads its file referent. It returns nil when no
// such Guid exists, and ErrNotFound when the Guid dangles.
func (s *MetaService) LookupGuid(ctx context.Context, guidID string) (*GuidTarget, error) {
	g, err := s.database.FindGuid(ctx, guidID)
	if err != nil || g == nil {
		return nil, err
	}
	target := &GuidTarget{Guid: g, Referent: Referent{Kind: g.ReferentKind, ID: g.ReferentID}}
	switch g.ReferentKind {
	case ReferentFile:
		target.Node, err = s.database.FindNodeByID(ctx, g.ReferentID)
		if err == nil && target.Node == nil {
			err = fmt.Errorf("guid %s points at missing node %s: %w", g.ID, g.ReferentID, ErrNotFound)
		}
	case ReferentTrashedFile:
		target.Trashed, err = s.database.FindTrashedByID(ctx, g.ReferentID)
		if err == nil && target.Trashed == nil {
			err = fmt.Errorf("guid %s points at missing tombstone %s: %w", g.ID, g.ReferentID, ErrNotFound)
		}
	}
	if err != nil {
		return nil, err
	}
	return target, nil
}

// Repoint makes guidID resolve to to. Repointing to the current referent is a no-op.
func (s *MetaService) Repoint(ctx context.Context, guidID string, to Referent) error {
	return s.database.InTx(ctx, func(st Store) error {
		return s.repoint(ctx, st, guidID, to)
	})
}

func (s *MetaService) repoint(ctx context.Context, st Store, guidID string, to Referent) error {
	g, err := st.FindGuid(ctx, guidID)
	if err != nil {
		return err
	}
	if g == nil {
		return fmt.Errorf("guid %s: %w", guidID, ErrNotFound)
	}
	if g.ReferentKind == to.Kind && g.ReferentID == to.ID {
		return nil
	}
	if err := referentExists(ctx, st, to); err != nil {
		return err
	}
	if err := st.RepointGuid(ctx, guidID, to.Kind, to.ID); err != nil {
		return err
	}
	s.logger.Info("guid repointed", "guid", guidID, "from", g.ReferentKind+":"+g.ReferentID, "to", to.String())
	return nil
}

// AddComment attaches a comment to the Guid of a live node, creating the Guid if needed.
func (s *MetaService) AddComment(ctx context.Context, nodeID, userID, content string) (*model.Comment, error) {
	var comment *model.Comment
	err := s.database.InTx(ctx, func(st Store) error {
		node, err := s.resolve(ctx, st, nodeID, nil)
		if err != nil {
			return err
		}
		guid, err := s.guidFor(ctx, st, FileReferent(node.ID))
		if err != nil {
			return err
		}
		comment = &model.Comment{
			ID:         s.idgen.New(),
			ProjectID:  node.ProjectID,
			RootTarget: guid.ID,
			UserID:     userID,
			Content:    content,
			CreatedAt:  s.clock.Now(),
		}
		return st.CreateComment(ctx, comment)
	})
	if err != nil {
		return nil, fmt.Errorf("adding comment to %s: %w", nodeID, err)
	}
	return comment, nil
}

// ListComments returns the comments rooted at guidID, oldest first.
func (s *MetaService) ListComments(ctx context.Context, guidID string) ([]*model.Comment, error) {
	return s.database.FindCommentsByRootTarget(ctx, guidID)
}
