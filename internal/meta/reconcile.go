package meta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fmeta-go/internal/model"
)

// Reconcile actions.
const (
	ActionIgnored   = "ignored"
	ActionTouched   = "touched"
	ActionUntracked = "untracked"
	ActionInPlace   = "in_place"
	ActionRelocated = "relocated"
	ActionDropped   = "dropped"
)

// ReconcileResult summarizes how an event was applied.
type ReconcileResult struct {
	Action string
	Node   *model.FileNode // destination node, when one was resolved

	Repointed  int   // guids moved to a new record
	Retargeted int64 // comments moved to the destination project
	Created    int   // destination records created
	Skipped    int   // guids left for a retry
}

// errSkipGuid marks a guid that needs no work.
var errSkipGuid = errors.New("guid already handled")

// HandleEvent applies a gateway event. Adds and updates refresh the node's
// metadata; moves and renames are reconciled.
func (s *MetaService) HandleEvent(ctx context.Context, ev *Event) (*ReconcileResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if s.ignored(ev.Destination) || (ev.Source != nil && s.ignored(ev.Source)) {
		s.logger.Debug("event ignored", "type", ev.Type, "path", ev.Destination.Path)
		return &ReconcileResult{Action: ActionIgnored}, nil
	}
	if ev.IsMove() {
		return s.Reconcile(ctx, ev)
	}

	dst := ev.Destination
	p, err := s.provider(dst.Provider)
	if err != nil {
		return nil, err
	}
	var node *model.FileNode
	if p.BuiltIn {
		node, err = s.builtInEventNode(ctx, dst, p)
	} else {
		node, err = s.GetOrCreate(ctx, dst.NodeID, dst.Provider, itemPath(dst))
	}
	if err != nil {
		return nil, err
	}
	result := &ReconcileResult{Action: ActionTouched, Node: node}
	if !node.IsFile() || p.BuiltIn {
		return result, nil
	}
	if _, err := s.Touch(ctx, node, ""); err != nil {
		return nil, err
	}
	return result, nil
}

// builtInEventNode returns the built-in record an add or update names. The
// event path is id-based, so a new record is placed by its materialized path.
func (s *MetaService) builtInEventNode(ctx context.Context, item *EventItem, p *Provider) (*model.FileNode, error) {
	var node *model.FileNode
	err := s.database.InTx(ctx, func(st Store) error {
		var err error
		node, err = s.findEventNode(ctx, st, item)
		if err != nil || node != nil {
			return err
		}
		node, _, err = s.destinationNode(ctx, st, item.NodeID, p, itemPath(item), itemMaterialized(item))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolving %s:%s: %w", item.Provider, item.Path, err)
	}
	return node, nil
}

func (s *MetaService) ignored(item *EventItem) bool {
	if s.filter == nil {
		return false
	}
	rel := strings.TrimPrefix(itemMaterialized(item), "/")
	return rel != "" && s.filter.Match(rel)
}

// Reconcile updates identity and comment ownership after a move or rename.
// A relocation within one provider and project updates the records in place.
// Otherwise every Guid under the source is moved to a new destination record,
// one Guid per transaction, and the source is trashed once nothing is left to retry.
func (s *MetaService) Reconcile(ctx context.Context, ev *Event) (*ReconcileResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if !ev.IsMove() {
		return nil, fmt.Errorf("%w: %s is not a move", ErrInvalidEvent, ev.Type)
	}
	src, dst := ev.Source, ev.Destination

	dstProvider, ok := s.registry.Provider(dst.Provider)
	if !ok {
		return s.drop(ev, fmt.Errorf("%w: unknown destination provider %q", ErrUnresolvedDestination, dst.Provider))
	}
	if _, ok := s.registry.Provider(src.Provider); !ok {
		return s.drop(ev, fmt.Errorf("%w: unknown source provider %q", ErrUnresolvedDestination, src.Provider))
	}

	srcNode, err := s.findEventNode(ctx, s.database, src)
	if err != nil {
		return nil, err
	}
	if srcNode == nil {
		s.logger.Info("move of untracked node", "provider", src.Provider, "path", src.Path)
		return &ReconcileResult{Action: ActionUntracked}, nil
	}

	if src.Provider == dst.Provider && src.NodeID == dst.NodeID {
		var node *model.FileNode
		err := s.database.InTx(ctx, func(st Store) error {
			var err error
			node, err = s.relocateInPlace(ctx, st, srcNode, dst, dstProvider, ev.Actor)
			return err
		})
		if errors.Is(err, ErrUnresolvedDestination) {
			return s.drop(ev, err)
		}
		if err != nil {
			return nil, fmt.Errorf("relocating %s: %w", srcNode.ID, err)
		}
		s.logger.Info("node relocated in place", "id", node.ID, "type", ev.Type, "path", node.Path)
		return &ReconcileResult{Action: ActionInPlace, Node: node}, nil
	}

	return s.relocate(ctx, ev, srcNode, dstProvider)
}

func (s *MetaService) drop(ev *Event, err error) (*ReconcileResult, error) {
	s.logger.Error("dropping move event", "type", ev.Type,
		"source", ev.Source.Provider+":"+ev.Source.Path,
		"destination", ev.Destination.Provider+":"+ev.Destination.Path,
		"error", err)
	return &ReconcileResult{Action: ActionDropped}, err
}

// findEventNode returns the live node an event item names, or nil.
func (s *MetaService) findEventNode(ctx context.Context, st Store, item *EventItem) (*model.FileNode, error) {
	path := itemPath(item)
	if path == "/" {
		return st.FindRootNode(ctx, item.NodeID, item.Provider)
	}
	node, err := st.FindNodeByPath(ctx, item.NodeID, item.Provider, path, kindOfPath(path))
	if err != nil || node != nil {
		return node, err
	}
	p, err := s.provider(item.Provider)
	if err != nil || !p.BuiltIn || item.Materialized == "" {
		return nil, err
	}
	return findMaterialized(ctx, st, item.NodeID, item.Provider, itemMaterialized(item))
}

// findMaterialized walks a materialized path by display name without creating anything.
func findMaterialized(ctx context.Context, st Store, projectID, provider, materialized string) (*model.FileNode, error) {
	node, err := st.FindRootNode(ctx, projectID, provider)
	if err != nil || node == nil {
		return nil, err
	}
	trimmed := strings.Trim(materialized, "/")
	if trimmed == "" {
		return node, nil
	}
	segments := strings.Split(trimmed, "/")
	for i, name := range segments {
		kind := model.KindFolder
		if i == len(segments)-1 {
			kind = kindOfPath(materialized)
		}
		node, err = st.FindChildByName(ctx, node.ID, name, kind)
		if err != nil || node == nil {
			return nil, err
		}
	}
	return node, nil
}

// relocateInPlace rewrites node, and the stored paths below it, to the destination.
// A stale live record already at the destination is trashed first.
func (s *MetaService) relocateInPlace(ctx context.Context, st Store, node *model.FileNode, dst *EventItem, p *Provider, actor string) (*model.FileNode, error) {
	if node.IsRoot() {
		return nil, fmt.Errorf("%w: cannot move a provider root", ErrUnresolvedDestination)
	}

	if p.BuiltIn {
		if dst.Materialized == "" {
			return nil, fmt.Errorf("%w: no materialized path for %s", ErrUnresolvedDestination, dst.Path)
		}
		mat := withKindSuffix(itemMaterialized(dst), node.Kind)
		parent, err := s.ensureMaterializedFolder(ctx, st, node.ProjectID, node.Provider, parentPath(mat))
		if err != nil {
			return nil, err
		}
		name := baseName(mat)
		stale, err := st.FindChildByName(ctx, parent.ID, name, node.Kind)
		if err != nil {
			return nil, err
		}
		if stale != nil && stale.ID != node.ID {
			if _, err := s.deleteNode(ctx, st, stale.ID, actor); err != nil {
				return nil, err
			}
		}
		node.ParentID = nullString(parent.ID)
		node.Name = name
		node.ModifiedAt = s.clock.Now()
		return node, st.UpdateNode(ctx, node)
	}

	newPath := withKindSuffix(itemPath(dst), node.Kind)
	newMat := newPath
	if dst.Materialized != "" {
		newMat = withKindSuffix(itemMaterialized(dst), node.Kind)
	}
	if newPath == node.Path && newMat == materializedOrPath(node) {
		return node, nil
	}

	stale, err := st.FindNodeByPath(ctx, node.ProjectID, node.Provider, newPath, node.Kind)
	if err != nil {
		return nil, err
	}
	if stale != nil && stale.ID != node.ID {
		if _, err := s.deleteNode(ctx, st, stale.ID, actor); err != nil {
			return nil, err
		}
	}
	parent, err := s.getOrCreate(ctx, st, node.ProjectID, node.Provider, parentPath(newPath))
	if err != nil {
		return nil, err
	}

	oldPath, oldMat := node.Path, materializedOrPath(node)
	now := s.clock.Now()
	node.ParentID = nullString(parent.ID)
	node.Path = newPath
	node.MaterializedPath = newMat
	node.Name = baseName(newMat)
	if dst.Name != "" {
		node.Name = dst.Name
	}
	node.ModifiedAt = now
	if err := st.UpdateNode(ctx, node); err != nil {
		return nil, err
	}
	if node.IsFile() {
		return node, nil
	}

	var below []*model.FileNode
	for d, err := range descendants(ctx, st, node) {
		if err != nil {
			return nil, err
		}
		below = append(below, d)
	}
	for _, d := range below {
		d.Path = newPath + strings.TrimPrefix(d.Path, oldPath)
		d.MaterializedPath = newMat + strings.TrimPrefix(materializedOrPath(d), oldMat)
		d.ModifiedAt = now
		if err := st.UpdateNode(ctx, d); err != nil {
			return nil, fmt.Errorf("rewriting %s: %w", d.ID, err)
		}
	}
	return node, nil
}

// movedFile is a file under the source of a move, with its source materialized path.
type movedFile struct {
	node         *model.FileNode
	materialized string
}

// relocate moves identity from the source records to new records at the destination.
func (s *MetaService) relocate(ctx context.Context, ev *Event, srcNode *model.FileNode, dstProvider *Provider) (*ReconcileResult, error) {
	src, dst := ev.Source, ev.Destination
	projectChanged := src.NodeID != dst.NodeID

	srcRoot, err := s.materializedPath(ctx, s.database, srcNode)
	if err != nil {
		return nil, err
	}
	dstRootMat := withKindSuffix(itemMaterialized(dst), srcNode.Kind)

	result := &ReconcileResult{Action: ActionRelocated}
	err = s.database.InTx(ctx, func(st Store) error {
		root, created, err := s.destinationNode(ctx, st, dst.NodeID, dstProvider, withKindSuffix(itemPath(dst), srcNode.Kind), dstRootMat)
		if err != nil {
			return err
		}
		if created {
			result.Created++
		}
		result.Node = root
		return nil
	})
	if err != nil {
		return s.drop(ev, fmt.Errorf("%w: %v", ErrUnresolvedDestination, err))
	}

	files, err := s.filesUnder(ctx, srcNode, srcRoot)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		guids, err := s.database.FindGuidsByReferent(ctx, ReferentFile, f.node.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range guids {
			err := s.database.InTx(ctx, func(st Store) error {
				return s.relocateGuid(ctx, st, g.ID, f, srcRoot, ev, dstProvider, projectChanged, result)
			})
			switch {
			case errors.Is(err, errSkipGuid):
			case err != nil:
				result.Skipped++
				s.logger.Warn("guid not relocated", "guid", g.ID, "file", f.node.ID, "error", err)
			default:
				result.Repointed++
			}
		}
	}

	if result.Skipped > 0 {
		s.logger.Warn("move partially applied; source kept for retry",
			"source", srcNode.ID, "repointed", result.Repointed, "skipped", result.Skipped)
		return result, nil
	}

	// Whatever is still live under the source carries no identity worth keeping.
	err = s.database.InTx(ctx, func(st Store) error {
		_, err := s.deleteNode(ctx, st, srcNode.ID, ev.Actor)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("trashing source %s: %w", srcNode.ID, err)
	}
	s.logger.Info("node relocated", "source", srcNode.ID, "destination", result.Node.ID,
		"repointed", result.Repointed, "retargeted", result.Retargeted, "created", result.Created)
	return result, nil
}

// filesUnder returns node itself when it is a file, or every live file below it.
func (s *MetaService) filesUnder(ctx context.Context, node *model.FileNode, srcRoot string) ([]movedFile, error) {
	if node.IsFile() {
		return []movedFile{{node: node, materialized: srcRoot}}, nil
	}
	var files []movedFile
	for d, err := range descendants(ctx, s.database, node) {
		if err != nil {
			return nil, err
		}
		if !d.IsFile() {
			continue
		}
		mat, err := s.materializedPath(ctx, s.database, d)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(mat, srcRoot) {
			continue
		}
		files = append(files, movedFile{node: d, materialized: mat})
	}
	return files, nil
}

// relocateGuid moves one guid from its source file to the corresponding
// destination record. It is safe to replay.
func (s *MetaService) relocateGuid(ctx context.Context, st Store, guidID string, f movedFile, srcRoot string, ev *Event, dstProvider *Provider, projectChanged bool, result *ReconcileResult) error {
	g, err := st.FindGuid(ctx, guidID)
	if err != nil {
		return err
	}
	if g == nil || g.ReferentKind != ReferentFile || g.ReferentID != f.node.ID {
		// Already trashed through the normal delete path, or already repointed.
		return errSkipGuid
	}
	old, err := st.FindNodeByID(ctx, f.node.ID)
	if err != nil {
		return err
	}
	if old == nil {
		return errSkipGuid
	}

	dst := ev.Destination
	path, mat := itemPath(dst), itemMaterialized(dst)
	if f.materialized != srcRoot {
		path, mat = s.correlate(dst, srcRoot, f.materialized)
	}

	if projectChanged {
		n, err := st.RetargetComments(ctx, g.ID, dst.NodeID)
		if err != nil {
			return err
		}
		result.Retargeted += n
	}

	target, created, err := s.destinationNode(ctx, st, dst.NodeID, dstProvider, path, mat)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolvedDestination, err)
	}
	if !target.IsFile() {
		return fmt.Errorf("%w: destination %s is a folder", ErrUnresolvedDestination, target.Path)
	}
	if created {
		result.Created++
	}

	target.History = old.History
	target.LastTouched = old.LastTouched
	if old.Name != "" && target.Name == "" {
		target.Name = old.Name
	}
	if err := st.UpdateNode(ctx, target); err != nil {
		return err
	}
	if err := s.repoint(ctx, st, g.ID, FileReferent(target.ID)); err != nil {
		return err
	}

	remaining, err := st.FindGuidsByReferent(ctx, ReferentFile, old.ID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if _, err := s.deleteNode(ctx, st, old.ID, ev.Actor); err != nil {
			return err
		}
	}
	return nil
}

// correlate finds where a file below the source root landed. It walks the
// reported destination tree for the child whose materialized path, with the
// destination root swapped back for the source root, equals the file's. When
// no child matches, the destination is derived by literal prefix substitution.
func (s *MetaService) correlate(dst *EventItem, srcRoot, fileMat string) (path, materialized string) {
	dstRoot := withKindSuffix(itemMaterialized(dst), model.KindFolder)
	if child := findCorrelated(dst.Children, dstRoot, srcRoot, fileMat, 0); child != nil {
		return itemPath(child), itemMaterialized(child)
	}

	suffix := strings.TrimPrefix(fileMat, srcRoot)
	path = withKindSuffix(itemPath(dst), model.KindFolder) + suffix
	materialized = dstRoot + suffix
	s.logger.Warn("destination child not reported; substituting path prefix",
		"provider", dst.Provider, "source", fileMat, "destination", path)
	return path, materialized
}

func findCorrelated(children []*EventItem, dstRoot, srcRoot, fileMat string, depth int) *EventItem {
	if depth == maxDepth {
		return nil
	}
	for _, c := range children {
		if !c.IsFolder() {
			mat := itemMaterialized(c)
			if strings.HasPrefix(mat, dstRoot) && srcRoot+strings.TrimPrefix(mat, dstRoot) == fileMat {
				return c
			}
		}
		if found := findCorrelated(c.Children, dstRoot, srcRoot, fileMat, depth+1); found != nil {
			return found
		}
	}
	return nil
}

// destinationNode returns the live record at a destination, creating it. For
// the built-in store path is id-based, so an unknown path falls back to the
// materialized path.
func (s *MetaService) destinationNode(ctx context.Context, st Store, projectID string, p *Provider, path, materialized string) (*model.FileNode, bool, error) {
	path = cleanPath(path)
	if path == "/" {
		node, err := s.ensureRoot(ctx, st, projectID, p.Name)
		return node, false, err
	}
	existing, err := st.FindNodeByPath(ctx, projectID, p.Name, path, kindOfPath(path))
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if p.BuiltIn {
		if materialized == "" {
			return nil, false, fmt.Errorf("no node at %s and no materialized path", path)
		}
		if found, err := findMaterialized(ctx, st, projectID, p.Name, materialized); err != nil || found != nil {
			return found, false, err
		}
		node, err := s.ensureMaterialized(ctx, st, projectID, p.Name, materialized)
		return node, err == nil, err
	}

	node, err := s.getOrCreate(ctx, st, projectID, p.Name, path)
	if err != nil {
		return nil, false, err
	}
	if materialized != "" && node.MaterializedPath != materialized {
		node.MaterializedPath = materialized
		if err := st.UpdateNode(ctx, node); err != nil {
			return nil, false, err
		}
	}
	return node, true, nil
}

func (s *MetaService) ensureMaterializedFolder(ctx context.Context, st Store, projectID, provider, materialized string) (*model.FileNode, error) {
	if strings.Trim(materialized, "/") == "" {
		return s.ensureRoot(ctx, st, projectID, provider)
	}
	return s.ensureMaterialized(ctx, st, projectID, provider, withKindSuffix(materialized, model.KindFolder))
}

func itemPath(item *EventItem) string {
	p := cleanPath(item.Path)
	if item.Kind == string(model.KindFolder) {
		p = withKindSuffix(p, model.KindFolder)
	}
	return p
}

func itemMaterialized(item *EventItem) string {
	if item.Materialized == "" {
		return itemPath(item)
	}
	m := cleanPath(item.Materialized)
	if item.IsFolder() {
		m = withKindSuffix(m, model.KindFolder)
	}
	return m
}

func withKindSuffix(p string, kind model.Kind) string {
	if kind == model.KindFolder && !strings.HasSuffix(p, "/") {
		return p + "/"
	}
	if kind == model.KindFile {
		return strings.TrimSuffix(p, "/")
	}
	return p
}
