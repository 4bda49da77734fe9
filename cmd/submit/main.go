// Command submit uploads a product image table to a running backend, waits
// for the job to reach a terminal status, and prints the export location.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"imagebatch-backend/internal/database"
	"imagebatch-backend/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:3001", "base URL of the backend")
		file     = flag.String("file", "", "path to the CSV/XLSX table to submit")
		format   = flag.String("format", "csv", "export format (csv or xlsx)")
		interval = flag.Duration("interval", time.Second, "status poll interval")
	)
	flag.Parse()

	if *file == "" {
		log.Fatal("-file is required")
	}

	client := resty.New().SetBaseURL(*server)

	var submitted api.SubmitJobResponse
	resp, err := client.R().
		SetFile("file", *file).
		SetResult(&submitted).
		Post("/jobs")
	if err != nil {
		log.Fatalf("failed to submit job: %v", err)
	}
	if !resp.IsSuccess() {
		log.Fatalf("failed to submit job: %s: %s", resp.Status(), resp.String())
	}

	fmt.Printf("submitted job %s\n", submitted.JobId)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("processing"),
		progressbar.OptionSpinnerType(14),
	)

	var status api.JobStatusResponse
	for {
		resp, err := client.R().
			SetResult(&status).
			Get(fmt.Sprintf("/jobs/%s/status", submitted.JobId))
		if err != nil {
			log.Fatalf("failed to query job status: %v", err)
		}
		if !resp.IsSuccess() {
			log.Fatalf("failed to query job status: %s: %s", resp.Status(), resp.String())
		}

		if status.Status == database.JobCompleted || status.Status == database.JobFailed {
			break
		}

		_ = bar.Add(1)
		time.Sleep(*interval)
	}
	_ = bar.Finish()

	fmt.Printf("\njob %s finished with status %s\n", submitted.JobId, status.Status)

	if status.Status != database.JobCompleted {
		log.Fatalf("job did not complete, check GET %s/jobs/%s for recorded errors", *server, submitted.JobId)
	}

	var export api.ExportResponse
	resp, err = client.R().
		SetQueryParam("format", *format).
		SetResult(&export).
		Get(fmt.Sprintf("/jobs/%s/export", submitted.JobId))
	if err != nil {
		log.Fatalf("failed to generate export: %v", err)
	}
	if !resp.IsSuccess() {
		log.Fatalf("failed to generate export: %s: %s", resp.Status(), resp.String())
	}

	fmt.Printf("export available at %s%s\n", *server, export.ReportPath)
}
