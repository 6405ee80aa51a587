package main

import (
	"github.com/echotrace/echotrace/pkg/echotrace"
	"github.com/echotrace/echotrace/pkg/echotrace/jobs"
	"github.com/echotrace/echotrace/pkg/models"
)

// registerJobHandlers installs the handlers for the in-process
// orchestrator. The standalone worker binary runs the same handlers.
func registerJobHandlers(orch *jobs.Orchestrator, service echotrace.Service, mediaDir string, log echotrace.Logger) {
	orch.Register(models.JobTypeFingerprintVideo, jobs.NewFingerprintHandler(service, mediaDir, log))
	orch.Register(models.JobTypeReindexCorpus, jobs.NewReindexHandler(service))
}
