// Package fetch downloads intro and outro clips into a run's scratch arena.
package fetch
