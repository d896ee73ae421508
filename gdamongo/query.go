package gdamongo

import (
	"github.com/lemmego/gda"
	"go.mongodb.org/mongo-driver/bson"
)

// =====================================
// Filter Translation
// =====================================

// Filter converts a restriction map into a MongoDB filter document. Scalar
// values become equality matches, slices become $in, and multiple fields
// wrap in $and. An empty map matches every document, and an empty $in list
// matches none, which MongoDB already guarantees. nil passes through
// unchanged: MongoDB's null equality matches documents where the field is
// null or absent.
func Filter(desc gda.Descriptor, r gda.Restrictions) bson.M {
	fields := r.Fields()
	if len(fields) == 0 {
		return bson.M{}
	}

	filters := make([]bson.M, 0, len(fields))
	for _, field := range fields {
		name := fieldName(desc, field)
		values, multi := gda.Candidates(r[field])
		if multi {
			filters = append(filters, bson.M{name: bson.M{"$in": values}})
		} else {
			filters = append(filters, bson.M{name: values[0]})
		}
	}

	if len(filters) == 1 {
		return filters[0]
	}
	return bson.M{"$and": filters}
}

// fieldName maps a restriction field to its stored name. The descriptor's
// id column is stored as MongoDB's _id.
func fieldName(desc gda.Descriptor, field string) string {
	if col := desc.Column(field); col != desc.IDColumn() {
		return col
	}
	return "_id"
}

// setDoc builds the $set document for a partial update.
func setDoc(desc gda.Descriptor, fields map[string]any) bson.M {
	set := bson.M{}
	for field, value := range fields {
		set[fieldName(desc, field)] = value
	}
	return bson.M{"$set": set}
}
