// Package storage defines the persistence contracts the repository depends
// on. Implementations live in the subpackages.
package storage
