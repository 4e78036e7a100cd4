package bboltx

import "go.etcd.io/bbolt"

// BucketParent is an interface for things that contain buckets, that is,
// transactions and other buckets.
type BucketParent interface {
	Bucket(name []byte) *bbolt.Bucket
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}
