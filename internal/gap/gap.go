// Package gap reconciles the observed topology against a desired topology
// description and reports what is missing and how much is covered.
package gap

import "github.com/platformbuilds/mq-entity-bridge/internal/model"

// actualKey identifies an observed entity by its natural name. Clusters key
// on their own name with an empty owning cluster.
type actualKey struct {
	entityType  model.EntityType
	clusterName string
	name        string
}

// Analyze compares actual entities against the desired topology. It is a
// pure function: no network access, no mutation of either input.
func Analyze(actual []model.Entity, desired model.DesiredTopology) model.GapReport {
	seen := make(map[actualKey]bool, len(actual))
	for _, e := range actual {
		seen[actualKey{e.EntityType, e.ClusterName, localName(e)}] = true
	}

	report := model.GapReport{
		MissingEntities: []model.MissingEntity{},
		CoverageReport:  make(map[string]model.CoverageStats, 5),
	}

	var totalExpected, totalActual int
	tally := func(category string, expected, matched int) {
		report.CoverageReport[category] = model.CoverageStats{
			Expected: expected,
			Actual:   matched,
			Coverage: coveragePercent(matched, expected),
		}
		totalExpected += expected
		totalActual += matched
	}

	matched := 0
	for _, c := range desired.Clusters {
		if seen[actualKey{model.EntityCluster, "", c.Name}] {
			matched++
			continue
		}
		report.MissingEntities = append(report.MissingEntities, model.MissingEntity{
			Type: model.EntityCluster, Name: c.Name, ClusterName: c.Name,
		})
	}
	tally(model.CategoryClusters, len(desired.Clusters), matched)

	matched = 0
	for _, b := range desired.Brokers {
		if seen[actualKey{model.EntityBroker, b.ClusterName, b.ID}] {
			matched++
			continue
		}
		report.MissingEntities = append(report.MissingEntities, model.MissingEntity{
			Type: model.EntityBroker, Name: b.ID, ClusterName: b.ClusterName,
		})
	}
	tally(model.CategoryBrokers, len(desired.Brokers), matched)

	matched = 0
	for _, tp := range desired.Topics {
		if seen[actualKey{model.EntityTopic, tp.ClusterName, tp.Name}] {
			matched++
			continue
		}
		report.MissingEntities = append(report.MissingEntities, model.MissingEntity{
			Type: model.EntityTopic, Name: tp.Name, ClusterName: tp.ClusterName,
		})
	}
	tally(model.CategoryTopics, len(desired.Topics), matched)

	matched = 0
	for _, q := range desired.Queues {
		if seen[actualKey{model.EntityQueue, q.ClusterName, q.Name}] {
			matched++
			continue
		}
		report.MissingEntities = append(report.MissingEntities, model.MissingEntity{
			Type: model.EntityQueue, Name: q.Name, ClusterName: q.ClusterName,
		})
	}
	tally(model.CategoryQueues, len(desired.Queues), matched)

	// Overall aggregates counts, not per-category percentages, so a large
	// category cannot be drowned out by a small one.
	report.CoverageReport[model.CategoryOverall] = model.CoverageStats{
		Expected: totalExpected,
		Actual:   totalActual,
		Coverage: coveragePercent(totalActual, totalExpected),
	}
	return report
}

// coveragePercent floors to an integer percentage. Zero expected entries are
// vacuously satisfied.
func coveragePercent(matched, expected int) int {
	if expected == 0 {
		return 100
	}
	return matched * 100 / expected
}

// localName recovers the natural name used for desired-topology matching:
// clusters name themselves through DisplayName, children strip their
// cluster-qualified display prefix back to the raw local id.
func localName(e model.Entity) string {
	switch e.EntityType {
	case model.EntityCluster:
		return e.DisplayName
	case model.EntityBroker:
		return trimDisplayPrefix(e.DisplayName, e.ClusterName+"-broker-")
	case model.EntityTopic:
		return trimDisplayPrefix(e.DisplayName, e.ClusterName+"-topic-")
	case model.EntityQueue:
		return trimDisplayPrefix(e.DisplayName, e.ClusterName+"-queue-")
	case model.EntityConsumerGroup:
		return trimDisplayPrefix(e.DisplayName, e.ClusterName+"-consumergroup-")
	}
	return e.DisplayName
}

func trimDisplayPrefix(display, prefix string) string {
	if len(display) > len(prefix) && display[:len(prefix)] == prefix {
		return display[len(prefix):]
	}
	return display
}
