package mongotools

import (
	"go.mongodb.org/mongo-driver/bson"
)

func SetAll(fieldKVs ...bson.M) bson.M {
	s := make(map[string]any, len(fieldKVs))
	for _, kv := range fieldKVs {
		for k, v := range kv {
			s[k] = v
		}
	}

	return bson.M{"$set": bson.M(s)}
}

func FilterByID(id string) bson.M {
	return bson.M{"_id": id}
}

func Field[T any](field string, value T) bson.M {
	return bson.M{field: value}
}
