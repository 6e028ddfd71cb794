// Package repository persists objects of one mapped type in a key/value
// store made of hashes and sets.
//
// For a type whose descriptor prefix is P and whose primary attribute value
// is K, a Repository maintains:
//
//	P_all             set of every primary key value
//	P_pkey_K          hash; field "__object" holds the encoded object and one
//	                  field per attribute holds its rendered value
//	P_<attr>_<value>  set of primary key values having that attribute value
//
// Point lookups read P_pkey_K. Queries sort a set (P_all or an attribute set)
// with GET P_pkey_*->__object, so results come back in one store round trip.
//
// Writes are issued as independent store commands unless Config.Atomic is
// set and the store implements store.Batcher.
package repository
