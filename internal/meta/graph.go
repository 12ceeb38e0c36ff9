package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"

	"fmeta-go/internal/model"
)

// maxDepth bounds parent-chain walks. A longer chain means a cycle in the data.
const maxDepth = 256

// GetOrCreate returns the live node at path, creating it and any missing
// ancestor folders. A trailing "/" names a folder. For the built-in store a
// path that matches no id-based node is treated as a materialized path.
func (s *MetaService) GetOrCreate(ctx context.Context, projectID, provider, path string) (*model.FileNode, error) {
	var node *model.FileNode
	err := s.database.InTx(ctx, func(st Store) error {
		var err error
		node, err = s.getOrCreate(ctx, st, projectID, provider, path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get or create %s:%s: %w", provider, path, err)
	}
	return node, nil
}

func (s *MetaService) getOrCreate(ctx context.Context, st Store, projectID, provider, path string) (*model.FileNode, error) {
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}
	path = cleanPath(path)
	if path == "/" {
		return s.ensureRoot(ctx, st, projectID, provider)
	}

	kind := kindOfPath(path)
	existing, err := st.FindNodeByPath(ctx, projectID, provider, path, kind)
	if err != nil || existing != nil {
		return existing, err
	}

	if p.BuiltIn {
		return s.ensureMaterialized(ctx, st, projectID, provider, path)
	}

	parent, err := s.getOrCreate(ctx, st, projectID, provider, parentPath(path))
	if err != nil {
		return nil, err
	}
	node := s.newNode(projectID, provider, kind, path, baseName(path))
	node.ParentID = nullString(parent.ID)
	node.MaterializedPath = path

	if err := st.CreateNode(ctx, node); err != nil {
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		// Lost a race with a concurrent creator: read theirs.
		existing, ferr := st.FindNodeByPath(ctx, projectID, provider, path, kind)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	s.logger.Debug("node created", "id", node.ID, "provider", provider, "path", path)
	return node, nil
}

// ensureRoot returns the provider's root folder in the project, creating it.
func (s *MetaService) ensureRoot(ctx context.Context, st Store, projectID, provider string) (*model.FileNode, error) {
	root, err := st.FindRootNode(ctx, projectID, provider)
	if err != nil || root != nil {
		return root, err
	}
	root = s.newNode(projectID, provider, model.KindFolder, "/", "")
	root.MaterializedPath = "/"
	if err := st.CreateNode(ctx, root); err != nil {
		if errors.Is(err, ErrConflict) {
			return st.FindRootNode(ctx, projectID, provider)
		}
		return nil, err
	}
	return root, nil
}

// ensureMaterialized walks materialized from the provider root by display
// name, creating missing nodes. Used for id-addressed providers.
func (s *MetaService) ensureMaterialized(ctx context.Context, st Store, projectID, provider, materialized string) (*model.FileNode, error) {
	node, err := s.ensureRoot(ctx, st, projectID, provider)
	if err != nil {
		return nil, err
	}
	segments := strings.Split(strings.Trim(materialized, "/"), "/")
	for i, name := range segments {
		kind := model.KindFolder
		if i == len(segments)-1 {
			kind = kindOfPath(materialized)
		}
		child, err := st.FindChildByName(ctx, node.ID, name, kind)
		if err != nil {
			return nil, err
		}
		if child == nil {
			child, err = s.createChild(ctx, st, node, name, kind)
			if err != nil {
				return nil, err
			}
		}
		node = child
	}
	return node, nil
}

// Resolve loads a live node by id. When expect is non-nil the node's
// provider and kind must match it.
func (s *MetaService) Resolve(ctx context.Context, id string, expect *NodeType) (*model.FileNode, error) {
	return s.resolve(ctx, s.database, id, expect)
}

func (s *MetaService) resolve(ctx context.Context, st Store, id string, expect *NodeType) (*model.FileNode, error) {
	node, err := st.FindNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	actual, err := s.registry.TypeOf(node)
	if err != nil {
		return nil, &SubclassMismatchError{ID: id, Expected: "a registered type", Got: node.Provider + "/" + string(node.Kind)}
	}
	if expect != nil && !expect.Matches(node) {
		return nil, &SubclassMismatchError{ID: id, Expected: expect.String(), Got: actual.String()}
	}
	return node, nil
}

// ChildrenOf returns the live children of a folder.
func (s *MetaService) ChildrenOf(ctx context.Context, folder *model.FileNode) ([]*model.FileNode, error) {
	if folder.IsFile() {
		return nil, fmt.Errorf("node %s is a file", folder.ID)
	}
	return s.database.FindChildren(ctx, folder.ID)
}

// CreateChild adds a file or folder named name under folder. A live sibling
// with the same name and kind is a Conflict.
func (s *MetaService) CreateChild(ctx context.Context, folder *model.FileNode, name string, kind model.Kind) (*model.FileNode, error) {
	var child *model.FileNode
	err := s.database.InTx(ctx, func(st Store) error {
		var err error
		child, err = s.createChild(ctx, st, folder, name, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("child created", "parent", folder.ID, "id", child.ID, "name", name, "kind", kind)
	return child, nil
}

func (s *MetaService) createChild(ctx context.Context, st Store, folder *model.FileNode, name string, kind model.Kind) (*model.FileNode, error) {
	if folder.IsFile() {
		return nil, fmt.Errorf("cannot create %q under file %s", name, folder.ID)
	}
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid name %q", name)
	}
	if kind != model.KindFile && kind != model.KindFolder {
		return nil, fmt.Errorf("invalid kind %q", kind)
	}
	p, err := s.provider(folder.Provider)
	if err != nil {
		return nil, err
	}

	existing, err := st.FindChildByName(ctx, folder.ID, name, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{
			Message:      fmt.Sprintf("cannot create %s %q: it already exists", kind, name),
			ResourceType: string(kind),
			ResourceID:   existing.ID,
		}
	}

	node := s.newNode(folder.ProjectID, folder.Provider, kind, "", name)
	node.ParentID = nullString(folder.ID)
	suffix := ""
	if kind == model.KindFolder {
		suffix = "/"
	}
	if p.BuiltIn {
		node.Path = "/" + node.ID + suffix
	} else {
		node.Path = folder.Path + name + suffix
		node.MaterializedPath = materializedOrPath(folder) + name + suffix
	}

	if err := st.CreateNode(ctx, node); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, &ConflictError{
				Message:      fmt.Sprintf("cannot create %s %q: it already exists", kind, name),
				ResourceType: string(kind),
			}
		}
		return nil, err
	}
	return node, nil
}

// Ancestors yields node's parents from nearest to the root. Parents may be
// live or trashed. The walk stops after yielding an error.
func (s *MetaService) Ancestors(ctx context.Context, node *model.FileNode) iter.Seq2[*model.FileNode, error] {
	return ancestors(ctx, s.database, node)
}

func ancestors(ctx context.Context, st Store, node *model.FileNode) iter.Seq2[*model.FileNode, error] {
	return func(yield func(*model.FileNode, error) bool) {
		parentID := node.ParentID
		for depth := 0; parentID.Valid; depth++ {
			if depth == maxDepth {
				yield(nil, fmt.Errorf("node %s: parent chain exceeds %d levels", node.ID, maxDepth))
				return
			}
			parent, err := findLiveOrTrashed(ctx, st, parentID.String)
			if err == nil && parent == nil {
				err = fmt.Errorf("parent %s of %s: %w", parentID.String, node.ID, ErrNotFound)
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(parent, nil) {
				return
			}
			parentID = parent.ParentID
		}
	}
}

func findLiveOrTrashed(ctx context.Context, st Store, id string) (*model.FileNode, error) {
	n, err := st.FindNodeByID(ctx, id)
	if err != nil || n != nil {
		return n, err
	}
	t, err := st.FindTrashedByID(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	return &t.FileNode, nil
}

// MaterializedPath returns the human-readable path of node from its project's
// provider root. The built-in store computes it from parent links on every call.
func (s *MetaService) MaterializedPath(ctx context.Context, node *model.FileNode) (string, error) {
	return s.materializedPath(ctx, s.database, node)
}

func (s *MetaService) materializedPath(ctx context.Context, st Store, node *model.FileNode) (string, error) {
	p, err := s.provider(node.Provider)
	if err != nil {
		return "", err
	}
	if !p.BuiltIn {
		return materializedOrPath(node), nil
	}
	if node.IsRoot() {
		return "/", nil
	}

	names := []string{node.Name}
	for parent, err := range ancestors(ctx, st, node) {
		if err != nil {
			return "", err
		}
		if !parent.IsRoot() {
			names = append(names, parent.Name)
		}
	}
	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(names[i])
	}
	if node.Kind == model.KindFolder {
		b.WriteString("/")
	}
	return b.String(), nil
}

// ExposedPath is the path reported to callers. For path-following providers it
// is the stored path relative to the currently configured root folder.
func (s *MetaService) ExposedPath(ctx context.Context, node *model.FileNode) (string, error) {
	p, err := s.provider(node.Provider)
	if err != nil {
		return "", err
	}
	if !p.PathFollowing {
		return node.Path, nil
	}
	root, err := s.database.FindProviderRoot(ctx, node.ProjectID, node.Provider)
	if err != nil {
		return "", err
	}
	if root == "" || root == "/" || !strings.HasPrefix(node.Path, root) {
		return node.Path, nil
	}
	return "/" + strings.TrimPrefix(node.Path, root), nil
}

// SetProviderRoot sets the root folder of a path-following provider in a project.
func (s *MetaService) SetProviderRoot(ctx context.Context, projectID, provider, root string) error {
	p, err := s.provider(provider)
	if err != nil {
		return err
	}
	if !p.PathFollowing {
		return fmt.Errorf("provider %s does not support a root folder", provider)
	}
	root = cleanPath(root)
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	if err := s.database.SetProviderRoot(ctx, projectID, provider, root); err != nil {
		return err
	}
	s.logger.Info("provider root set", "project", projectID, "provider", provider, "root", root)
	return nil
}

// Checkout marks a file as checked out by userID. A file held by another user is a Conflict.
func (s *MetaService) Checkout(ctx context.Context, fileID, userID string) (*model.FileNode, error) {
	var node *model.FileNode
	err := s.database.InTx(ctx, func(st Store) error {
		n, err := s.resolve(ctx, st, fileID, nil)
		if err != nil {
			return err
		}
		if !n.IsFile() {
			return fmt.Errorf("node %s is a folder; only files can be checked out", fileID)
		}
		if n.CheckoutUserID.Valid && n.CheckoutUserID.String != userID {
			return &ConflictError{
				Message:      fmt.Sprintf("file is checked out by %s", n.CheckoutUserID.String),
				ResourceType: string(model.KindFile),
				ResourceID:   n.ID,
			}
		}
		n.CheckoutUserID = nullString(userID)
		n.ModifiedAt = s.clock.Now()
		node = n
		return st.UpdateNode(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// ReleaseCheckout clears a file's checkout holder.
func (s *MetaService) ReleaseCheckout(ctx context.Context, fileID string) error {
	return s.database.InTx(ctx, func(st Store) error {
		n, err := s.resolve(ctx, st, fileID, nil)
		if err != nil {
			return err
		}
		if !n.CheckoutUserID.Valid {
			return nil
		}
		n.CheckoutUserID = sql.NullString{}
		n.ModifiedAt = s.clock.Now()
		return st.UpdateNode(ctx, n)
	})
}

// TreeEntry is a rendered subtree of the graph.
type TreeEntry struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Kind         model.Kind   `json:"kind" yaml:"kind"`
	Path         string       `json:"path" yaml:"path"`
	Materialized string       `json:"materialized" yaml:"materialized"`
	Children     []*TreeEntry `json:"children,omitempty" yaml:"children,omitempty"`
}

// Tree renders node and its live descendants.
func (s *MetaService) Tree(ctx context.Context, node *model.FileNode) (*TreeEntry, error) {
	mat, err := s.MaterializedPath(ctx, node)
	if err != nil {
		return nil, err
	}
	exposed, err := s.ExposedPath(ctx, node)
	if err != nil {
		return nil, err
	}
	entry := &TreeEntry{ID: node.ID, Name: node.Name, Kind: node.Kind, Path: exposed, Materialized: mat}
	if node.IsFile() {
		return entry, nil
	}
	children, err := s.database.FindChildren(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		ce, err := s.Tree(ctx, c)
		if err != nil {
			return nil, err
		}
		entry.Children = append(entry.Children, ce)
	}
	return entry, nil
}

// descendants yields every live node strictly below folder, depth first.
func descendants(ctx context.Context, st Store, folder *model.FileNode) iter.Seq2[*model.FileNode, error] {
	return func(yield func(*model.FileNode, error) bool) {
		var walk func(*model.FileNode, int) bool
		walk = func(n *model.FileNode, depth int) bool {
			if depth == maxDepth {
				return yield(nil, fmt.Errorf("node %s: tree exceeds %d levels", folder.ID, maxDepth))
			}
			children, err := st.FindChildren(ctx, n.ID)
			if err != nil {
				return yield(nil, err)
			}
			for _, c := range children {
				if !yield(c, nil) {
					return false
				}
				if !c.IsFile() && !walk(c, depth+1) {
					return false
				}
			}
			return true
		}
		walk(folder, 0)
	}
}

func (s *MetaService) newNode(projectID, provider string, kind model.Kind, path, name string) *model.FileNode {
	now := s.clock.Now()
	return &model.FileNode{
		ID:         s.idgen.New(),
		ProjectID:  projectID,
		Provider:   provider,
		Kind:       kind,
		Path:       path,
		Name:       name,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

func materializedOrPath(n *model.FileNode) string {
	if n.MaterializedPath != "" {
		return n.MaterializedPath
	}
	return n.Path
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// cleanPath makes p absolute and resolves "//", "." and ".." segments. A
// trailing slash, or a trailing "." or "..", keeps the result a folder path.
func cleanPath(p string) string {
	last := p[strings.LastIndex(p, "/")+1:]
	folder := strings.HasSuffix(p, "/") || last == "." || last == ".."
	p = path.Clean("/" + p)
	if folder && p != "/" {
		p += "/"
	}
	return p
}

func kindOfPath(p string) model.Kind {
	if strings.HasSuffix(p, "/") {
		return model.KindFolder
	}
	return model.KindFile
}

// parentPath returns the folder path containing p: "/a/b.txt" -> "/a/", "/a/" -> "/".
func parentPath(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	return trimmed[:strings.LastIndex(trimmed, "/")+1]
}

func baseName(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}
