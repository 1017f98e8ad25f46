package store

import (
	"fmt"
	"strings"
)

// CollectionRef addresses a collection, either at the root ("teams") or
// nested under a document ("teams/t1/customersSettings").
type CollectionRef struct {
	Parent *DocRef
	Name   string
}

// DocRef addresses a single document inside a collection.
type DocRef struct {
	Parent CollectionRef
	ID     string
}

// Collection returns a reference to a root collection.
func Collection(name string) CollectionRef {
	return CollectionRef{Name: name}
}

// Doc returns a reference to the document id inside c.
func (c CollectionRef) Doc(id string) DocRef {
	return DocRef{Parent: c, ID: id}
}

// Path renders the slash-separated collection path.
func (c CollectionRef) Path() string {
	if c.Parent == nil {
		return c.Name
	}
	return c.Parent.Path() + "/" + c.Name
}

// Validate checks every segment of the path.
func (c CollectionRef) Validate() error {
	if err := validSegment(c.Name); err != nil {
		return fmt.Errorf("collection %q: %w", c.Path(), err)
	}
	if c.Parent != nil {
		return c.Parent.Validate()
	}
	return nil
}

// Collection returns a reference to a subcollection of d.
func (d DocRef) Collection(name string) CollectionRef {
	parent := d
	return CollectionRef{Parent: &parent, Name: name}
}

// Path renders the slash-separated document path.
func (d DocRef) Path() string {
	return d.Parent.Path() + "/" + d.ID
}

// Validate checks the document id and its parent collection.
func (d DocRef) Validate() error {
	if err := validSegment(d.ID); err != nil {
		return fmt.Errorf("document %q: %w", d.Path(), err)
	}
	return d.Parent.Validate()
}

// String implements fmt.Stringer.
func (d DocRef) String() string {
	return d.Path()
}

// ParseDocPath parses "a/b/c/d" into a DocRef. The path must have an even
// number of non-empty segments.
func ParseDocPath(path string) (DocRef, error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return DocRef{}, fmt.Errorf("%w: %q is not a document path", ErrInvalidArgument, path)
	}
	ref := Collection(segments[0]).Doc(segments[1])
	for i := 2; i < len(segments); i += 2 {
		ref = ref.Collection(segments[i]).Doc(segments[i+1])
	}
	if err := ref.Validate(); err != nil {
		return DocRef{}, err
	}
	return ref, nil
}

func validSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty path segment", ErrInvalidArgument)
	}
	if strings.ContainsRune(s, '/') {
		return fmt.Errorf("%w: segment %q contains '/'", ErrInvalidArgument, s)
	}
	if strings.ContainsRune(s, '#') {
		return fmt.Errorf("%w: segment %q contains '#'", ErrInvalidArgument, s)
	}
	return nil
}
