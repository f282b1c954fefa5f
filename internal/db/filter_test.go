package db

import (
	"errors"
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestFilterBuilderMergesOperators(t *testing.T) {
	got := NewFilter().
		Eq("room_id", "room:alice_bob").
		Ne("sender_id", "u1").
		Lt("status", 3).
		Gt("created_at", 10).
		Lt("created_at", 20).
		Active().
		Build()

	want := bson.M{
		"room_id":    "room:alice_bob",
		"sender_id":  bson.M{"$ne": "u1"},
		"status":     bson.M{"$lt": 3},
		"created_at": bson.M{"$gt": 10, "$lt": 20},
		"left_at":    nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filter = %v, want %v", got, want)
	}
}

func TestFilterBuilderNullChecks(t *testing.T) {
	got := NewFilter().In("user_id", []string{"a", "b"}).NotNull("left_at").Build()
	want := bson.M{
		"user_id": bson.M{"$in": []string{"a", "b"}},
		"left_at": bson.M{"$ne": nil},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filter = %v, want %v", got, want)
	}
	if len(Empty()) != 0 {
		t.Fatalf("Empty must match everything")
	}
}

func TestFilterBuilderOr(t *testing.T) {
	got := NewFilter().
		Eq("room_id", "room:alice_bob").
		Or(bson.M{"last_read_at": nil}, bson.M{"last_read_at": bson.M{"$lt": 5}}).
		Build()
	want := bson.M{
		"room_id": "room:alice_bob",
		"$or": bson.A{
			bson.M{"last_read_at": nil},
			bson.M{"last_read_at": bson.M{"$lt": 5}},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filter = %v, want %v", got, want)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	if !IsDuplicateKey(dup) {
		t.Fatalf("code 11000 must count as a duplicate key")
	}
	if IsDuplicateKey(errors.New("boom")) || IsDuplicateKey(nil) {
		t.Fatalf("plain errors are not duplicate keys")
	}
}
