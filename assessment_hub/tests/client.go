package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"a11y_platform/assessment_hub/vpat"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(email, password string) *httpTestRequest {
	r.login = &loginInfo{Email: email, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

func (r *httpTestRequest) send() (*httptest.ResponseRecorder, error) {
	if r.json != nil {
		body := new(bytes.Buffer)
		if err := json.NewEncoder(body).Encode(r.json); err != nil {
			return nil, fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Email, r.login.Password)
	}

	w := httptest.NewRecorder()
	r.api.ServeHTTP(w, req)
	return w, nil
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	w, err := r.send()
	if err != nil {
		return err
	}

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		if err := json.NewDecoder(res.Body).Decode(result); err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

// Text is like Do but returns the raw response body, for endpoints serving
// documents rather than json.
func (r *httpTestRequest) Text() (string, http.Header, error) {
	w, err := r.send()
	if err != nil {
		return "", nil, err
	}

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized {
			return "", nil, ErrUnauthorized
		}
		return "", nil, fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	return w.Body.String(), res.Header, nil
}

var ErrUnauthorized = errors.New("unauthorized")

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *client) signup(username, email, password string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "username": username, "password": password,
	}

	if err := c.Post("/user/signup").Json(body).Do(nil); err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	var res map[string]string
	err := c.Get("/user/login").Login(login.Email, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res["access_token"]
	c.userId = res["user_id"]

	return nil
}

func (c *client) createProject(name string) (string, error) {
	var res map[string]string
	err := c.Post("/project/create").Json(map[string]string{"name": name}).Do(&res)
	return res["project_id"], err
}

func (c *client) createAssessment(name, wcagVersion string) (string, error) {
	body := map[string]string{"name": name, "wcag_version": wcagVersion}
	var res map[string]string
	err := c.Post("/assessment/create").Json(body).Do(&res)
	return res["assessment_id"], err
}

func (c *client) linkAssessment(projectId, assessmentId string) error {
	return c.Post(fmt.Sprintf("/project/%v/assessments/%v", projectId, assessmentId)).Do(nil)
}

func (c *client) createIssue(title, severity string, codes []string) (string, error) {
	body := map[string]interface{}{
		"title": title, "severity": severity, "criteria_codes": codes,
	}
	var res map[string]string
	err := c.Post("/issue/create").Json(body).Do(&res)
	return res["issue_id"], err
}

func (c *client) linkIssue(assessmentId, issueId string) error {
	return c.Post(fmt.Sprintf("/assessment/%v/issues/%v", assessmentId, issueId)).Do(nil)
}

func (c *client) setIssueStatus(issueId, status string) error {
	return c.Post(fmt.Sprintf("/issue/%v/status", issueId)).Json(map[string]string{"status": status}).Do(nil)
}

func (c *client) criteriaSummary(projectId string) (map[string]map[string]interface{}, error) {
	var res struct {
		Criteria map[string]map[string]interface{} `json:"criteria"`
	}
	err := c.Get(fmt.Sprintf("/project/%v/criteria-summary", projectId)).Do(&res)
	return res.Criteria, err
}

func (c *client) createVpat(projectId, title string, versions, levels []string) (string, error) {
	body := map[string]interface{}{
		"project_id": projectId, "title": title, "wcag_versions": versions, "levels": levels,
	}
	var res map[string]string
	err := c.Post("/vpat/create").Json(body).Do(&res)
	return res["vpat_id"], err
}

type vpatRow struct {
	Code             string     `json:"code"`
	Conformance      *string    `json:"conformance"`
	Remarks          *string    `json:"remarks"`
	RelatedIssueUrls []string   `json:"related_issue_urls"`
	LastGeneratedAt  *time.Time `json:"last_generated_at"`
	LastEditedBy     *string    `json:"last_edited_by"`
}

func (c *client) upsertRow(vpatId, code string, conformance, remarks *string) error {
	body := map[string]interface{}{"conformance": conformance, "remarks": remarks}
	return c.Post(fmt.Sprintf("/vpat/%v/rows/%v", vpatId, code)).Json(body).Do(nil)
}

func (c *client) upsertRowWithUrls(vpatId, code string, conformance, remarks *string, urls []string) error {
	body := map[string]interface{}{
		"conformance": conformance, "remarks": remarks, "related_issue_urls": urls,
	}
	return c.Post(fmt.Sprintf("/vpat/%v/rows/%v", vpatId, code)).Json(body).Do(nil)
}

func (c *client) listRows(vpatId string) ([]vpatRow, error) {
	var res []vpatRow
	err := c.Get(fmt.Sprintf("/vpat/%v/rows", vpatId)).Do(&res)
	return res, err
}

func (c *client) generate(vpatId string) (int, []string, error) {
	var res struct {
		RowsWritten int      `json:"rows_written"`
		Warnings    []string `json:"warnings"`
	}
	err := c.Post(fmt.Sprintf("/vpat/%v/generate", vpatId)).Do(&res)
	return res.RowsWritten, res.Warnings, err
}

func (c *client) validate(vpatId string) (bool, []vpat.Violation, error) {
	var res struct {
		Valid      bool             `json:"valid"`
		Violations []vpat.Violation `json:"violations"`
	}
	err := c.Get(fmt.Sprintf("/vpat/%v/validate", vpatId)).Do(&res)
	return res.Valid, res.Violations, err
}

func (c *client) publish(vpatId string) (string, int, error) {
	var res struct {
		VersionId     string `json:"version_id"`
		VersionNumber int    `json:"version_number"`
	}
	err := c.Post(fmt.Sprintf("/vpat/%v/publish", vpatId)).Do(&res)
	return res.VersionId, res.VersionNumber, err
}

func (c *client) unpublish(vpatId string) error {
	return c.Post(fmt.Sprintf("/vpat/%v/unpublish", vpatId)).Do(nil)
}

type versionEntry struct {
	Id            string `json:"id"`
	VersionNumber int    `json:"version_number"`
	Current       bool   `json:"current"`
}

func (c *client) listVersions(vpatId string) ([]versionEntry, error) {
	var res []versionEntry
	err := c.Get(fmt.Sprintf("/vpat/%v/versions", vpatId)).Do(&res)
	return res, err
}

func (c *client) export(vpatId string, versionNumber int) (string, http.Header, error) {
	return c.Get(fmt.Sprintf("/vpat/%v/versions/%d/export", vpatId, versionNumber)).Text()
}

func (c *client) createShare(versionId, visibility, password string, showIssueLinks bool) (string, error) {
	body := map[string]interface{}{
		"version_id": versionId, "visibility": visibility,
		"password": password, "show_issue_links": showIssueLinks,
	}
	var res map[string]string
	err := c.Post("/share/create").Json(body).Do(&res)
	return res["share_id"], err
}

func (c *client) revokeShare(shareId string) error {
	return c.Post(fmt.Sprintf("/share/%v/revoke", shareId)).Do(nil)
}

type sharedReport struct {
	Title         string             `json:"title"`
	VersionNumber int                `json:"version_number"`
	Scope         vpat.Scope         `json:"scope"`
	Rows          []vpat.CriteriaRow `json:"rows"`
	Markdown      string             `json:"markdown"`
}

func (c *client) readShare(shareId, password string) (sharedReport, error) {
	endpoint := fmt.Sprintf("/shared/%v", shareId)
	if password != "" {
		endpoint += "?password=" + password
	}

	var res sharedReport
	err := newHttpTestRequest(c.api, "GET", endpoint).Do(&res)
	return res, err
}
