package db

import (
	"go.mongodb.org/mongo-driver/bson"
)

// FilterBuilder helps build MongoDB filters fluently. Operators on the same
// field are merged, so Ne("status", x).Lt("status", y) keeps both.
type FilterBuilder struct {
	filter bson.M
}

// NewFilter creates a new FilterBuilder
func NewFilter() *FilterBuilder {
	return &FilterBuilder{filter: bson.M{}}
}

// Eq adds an equality condition
func (f *FilterBuilder) Eq(field string, value interface{}) *FilterBuilder {
	f.filter[field] = value
	return f
}

// Ne adds a not-equal condition
func (f *FilterBuilder) Ne(field string, value interface{}) *FilterBuilder {
	return f.op(field, "$ne", value)
}

// Gt adds a greater-than condition
func (f *FilterBuilder) Gt(field string, value interface{}) *FilterBuilder {
	return f.op(field, "$gt", value)
}

// Lt adds a less-than condition
func (f *FilterBuilder) Lt(field string, value interface{}) *FilterBuilder {
	return f.op(field, "$lt", value)
}

// In adds an $in condition (value in array)
func (f *FilterBuilder) In(field string, values interface{}) *FilterBuilder {
	return f.op(field, "$in", values)
}

// Null matches documents where field is null or missing
func (f *FilterBuilder) Null(field string) *FilterBuilder {
	f.filter[field] = nil
	return f
}

// NotNull matches documents where field holds a value
func (f *FilterBuilder) NotNull(field string) *FilterBuilder {
	return f.op(field, "$ne", nil)
}

// Active matches memberships that have not been left
func (f *FilterBuilder) Active() *FilterBuilder {
	return f.Null("left_at")
}

// Or adds an $or over the given clauses. A second call replaces the first.
func (f *FilterBuilder) Or(clauses ...bson.M) *FilterBuilder {
	arr := make(bson.A, 0, len(clauses))
	for _, c := range clauses {
		arr = append(arr, c)
	}
	f.filter["$or"] = arr
	return f
}

// Build returns the final bson.M filter
func (f *FilterBuilder) Build() bson.M {
	return f.filter
}

func (f *FilterBuilder) op(field, operator string, value interface{}) *FilterBuilder {
	if existing, ok := f.filter[field].(bson.M); ok {
		existing[operator] = value
		return f
	}
	f.filter[field] = bson.M{operator: value}
	return f
}

// Empty returns an empty filter (matches all documents)
func Empty() bson.M {
	return bson.M{}
}
