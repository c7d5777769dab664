package design

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// Hash fingerprints everything that determines task identity and seeds:
// factor names and level kinds, the surviving conditions with their
// indices and values, replications and the seed policy. Exclusion is
// covered through the surviving conditions, whatever predicate or policy
// produced them. Two runs with the same hash produce the same tasks.
func Hash(factors []domain.Factor, conditions []domain.Condition, replications int, seeds domain.SeedPolicy) string {
	d := xxhash.New()
	write := func(s string) {
		d.WriteString(strconv.Itoa(len(s)))
		d.WriteString(":")
		d.WriteString(s)
	}

	for _, f := range factors {
		write("factor")
		write(f.Name)
		for _, l := range f.Levels {
			write(l.Kind().String())
			write(l.String())
		}
	}
	for _, c := range conditions {
		write("condition")
		write(strconv.Itoa(c.Index))
		for _, v := range c.Values() {
			write(v.Kind().String())
			write(v.String())
		}
	}
	write("replications")
	write(strconv.Itoa(replications))
	write("seed")
	write(strconv.FormatInt(seeds.Base, 10))
	for _, s := range seeds.PerCondition {
		write("condition seed")
		write(strconv.FormatInt(s, 10))
	}

	return fmt.Sprintf("%016x", d.Sum64())
}
