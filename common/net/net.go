// Package net is a drop-in replacement to Golang's net package, with some more functionalities
// tailored to how destinations are represented across this module.
package net
