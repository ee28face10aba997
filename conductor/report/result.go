// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package report aggregates backup outcomes per project and sends them.
package report

import (
	"sort"
	"time"

	"github.com/zeebo/errs"

	"github.com/StorXNetwork/volumebackup/cloud"
)

// Error is the default report errs class.
var Error = errs.Class("report")

// Success is a backup that completed.
type Success struct {
	VolumeID string
	BackupID string
}

// Failure is a backup that failed or was skipped.
type Failure struct {
	VolumeID string
	Reason   string
}

// Project holds the outcomes of one project.
type Project struct {
	ID        string
	Name      string
	Quotas    *cloud.QuotaSet
	Succeeded []Success
	Failed    []Failure
}

// Result aggregates outcomes of terminal tasks for one report.
type Result struct {
	Time     time.Time
	projects map[string]*Project
}

// NewResult creates an empty result stamped with now.
func NewResult(now time.Time) *Result {
	return &Result{
		Time:     now,
		projects: map[string]*Project{},
	}
}

// AddProject registers a project. Registering twice keeps the first name.
func (result *Result) AddProject(id, name string) {
	if _, ok := result.projects[id]; ok {
		return
	}
	result.projects[id] = &Project{ID: id, Name: name}
}

// AddSuccess records a completed backup. It returns false for projects not
// registered with AddProject.
func (result *Result) AddSuccess(projectID, volumeID, backupID string) bool {
	project, ok := result.projects[projectID]
	if !ok {
		return false
	}
	project.Succeeded = append(project.Succeeded, Success{VolumeID: volumeID, BackupID: backupID})
	return true
}

// AddFailure records a failed backup. It returns false for projects not
// registered with AddProject.
func (result *Result) AddFailure(projectID, volumeID, reason string) bool {
	project, ok := result.projects[projectID]
	if !ok {
		return false
	}
	project.Failed = append(project.Failed, Failure{VolumeID: volumeID, Reason: reason})
	return true
}

// SetQuotas attaches the backup count and size quotas of a project.
func (result *Result) SetQuotas(projectID string, quotas cloud.QuotaSet) {
	if project, ok := result.projects[projectID]; ok {
		project.Quotas = &quotas
	}
}

// Projects returns projects with at least one outcome, sorted by name.
func (result *Result) Projects() []*Project {
	var projects []*Project
	for _, project := range result.projects {
		if len(project.Succeeded)+len(project.Failed) == 0 {
			continue
		}
		projects = append(projects, project)
	}
	sort.Slice(projects, func(i, k int) bool {
		if projects[i].Name != projects[k].Name {
			return projects[i].Name < projects[k].Name
		}
		return projects[i].ID < projects[k].ID
	})
	return projects
}

// Empty reports whether there is nothing to report.
func (result *Result) Empty() bool {
	return len(result.Projects()) == 0
}
