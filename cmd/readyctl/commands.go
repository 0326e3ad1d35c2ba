package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

func runReport(cmd *cobra.Command, args []string) error {
	body, err := fetch(productPath(args[0]) + "/readiness" + readinessQuery())
	if err != nil {
		return err
	}
	if asJSON {
		fmt.Println(string(body))
		return nil
	}

	var report struct {
		SelectedVersionID string `json:"selected_version_id"`
		Timeline          []struct {
			ID            string `json:"id"`
			VersionNumber int    `json:"version_number"`
			Status        string `json:"status"`
		} `json:"timeline"`
		OverallScore int `json:"overall_score"`
		StateStats   struct {
			Total           int `json:"total"`
			Active          int `json:"active"`
			Blocked         int `json:"blocked"`
			ReadyToActivate int `json:"ready_to_activate"`
		} `json:"state_stats"`
		Categories []struct {
			Category  string `json:"category"`
			Score     int    `json:"score"`
			Published int    `json:"published"`
			Total     int    `json:"total"`
		} `json:"categories"`
		Blockers []string `json:"blockers"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("decoding report: %w", err)
	}

	for _, v := range report.Timeline {
		if v.ID == report.SelectedVersionID {
			fmt.Printf("Version %d (%s) status=%s\n", v.VersionNumber, v.ID, v.Status)
			break
		}
	}
	fmt.Printf("Overall readiness: %d/100\n\n", report.OverallScore)
	fmt.Printf("States: %d total, %d active, %d ready to activate, %d blocked\n\n",
		report.StateStats.Total, report.StateStats.Active, report.StateStats.ReadyToActivate, report.StateStats.Blocked)
	for _, cat := range report.Categories {
		fmt.Printf("  %-14s %3d/100  (%d/%d published)\n", cat.Category, cat.Score, cat.Published, cat.Total)
	}
	if len(report.Blockers) > 0 {
		fmt.Printf("\nBlockers (%d):\n", len(report.Blockers))
		for _, b := range report.Blockers {
			fmt.Println("  -", b)
		}
	} else {
		fmt.Println("\nNo blockers.")
	}
	return nil
}

func runBlockers(cmd *cobra.Command, args []string) error {
	body, err := fetch(productPath(args[0]) + "/whats-missing" + readinessQuery())
	if err != nil {
		return err
	}
	if asJSON {
		fmt.Println(string(body))
		return nil
	}

	var result struct {
		Blockers []string `json:"blockers"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decoding blockers: %w", err)
	}
	if len(result.Blockers) == 0 {
		fmt.Println("Nothing missing.")
		return nil
	}
	for _, b := range result.Blockers {
		fmt.Println("-", b)
	}
	return nil
}

func runVersions(cmd *cobra.Command, args []string) error {
	body, err := fetch(productPath(args[0]) + "/versions")
	if err != nil {
		return err
	}
	if asJSON {
		fmt.Println(string(body))
		return nil
	}

	var result struct {
		Versions []struct {
			ID             string     `json:"id"`
			VersionNumber  int        `json:"version_number"`
			Status         string     `json:"status"`
			Summary        string     `json:"summary"`
			EffectiveStart *time.Time `json:"effective_start"`
		} `json:"versions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decoding versions: %w", err)
	}
	for _, v := range result.Versions {
		effective := "-"
		if v.EffectiveStart != nil {
			effective = v.EffectiveStart.Format("2006-01-02")
		}
		fmt.Printf("v%-3d %-10s effective=%-10s %s (%s)\n", v.VersionNumber, v.Status, effective, v.Summary, v.ID)
	}
	return nil
}

func productPath(productID string) string {
	return fmt.Sprintf("/api/v1/orgs/%s/products/%s", url.PathEscape(org), url.PathEscape(productID))
}

func readinessQuery() string {
	params := url.Values{}
	if versionID != "" {
		params.Set("version", versionID)
	}
	if state != "" {
		params.Set("state", state)
	}
	if date != "" {
		params.Set("date", date)
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

func fetch(path string) ([]byte, error) {
	if org == "" {
		return nil, fmt.Errorf("--org is required (or set READYCTL_ORG)")
	}
	resp, err := httpClient.Get(strings.TrimRight(serverURL, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("calling readiness engine: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
