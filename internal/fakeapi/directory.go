package fakeapi

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrInvalid     = errors.New("invalid input")
	ErrUnsupported = errors.New("unsupported")
)

// User is a directory member as the admin API serves it.
type User struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Phone      string `json:"phone,omitempty"`
	RollNumber string `json:"rollNumber,omitempty"`
	House      string `json:"house,omitempty"`
}

// Record converts u to the cache representation.
func (u User) Record() cache.Record {
	fields := map[string]any{
		"name":  u.Name,
		"email": u.Email,
		"role":  u.Role,
	}
	if u.Phone != "" {
		fields["phone"] = u.Phone
	}
	if u.RollNumber != "" {
		fields["rollNumber"] = u.RollNumber
	}
	if u.House != "" {
		fields["house"] = u.House
	}
	return cache.Record{ID: u.ID, Fields: fields}
}

// Course is a course with its member lists.
type Course struct {
	ID          string   `json:"_id"`
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	Credits     int      `json:"credits"`
	Description string   `json:"description,omitempty"`
	Faculty     []string `json:"faculty"`
	Students    []string `json:"students"`
}

// View is the course as served, with member counts.
func (c Course) View() CourseView {
	return CourseView{
		Course:            c,
		NumberOfStudents:  len(c.Students),
		NumberOfFaculties: len(c.Faculty),
	}
}

// CourseView adds the member counts the detail page shows.
type CourseView struct {
	Course
	NumberOfStudents  int `json:"numberOfStudents"`
	NumberOfFaculties int `json:"numberOfFaculties"`
}

// Record converts the course to the cache representation.
func (v CourseView) Record() cache.Record {
	return cache.Record{ID: v.ID, Fields: map[string]any{
		"name":              v.Name,
		"code":              v.Code,
		"credits":           v.Credits,
		"description":       v.Description,
		"numberOfStudents":  v.NumberOfStudents,
		"numberOfFaculties": v.NumberOfFaculties,
	}}
}

// Snapshot is the serialized form of a directory, used by fixtures.
type Snapshot struct {
	Users   []User   `json:"users"`
	Courses []Course `json:"courses"`
}

// Directory is an in-memory users and courses store. Users keep insertion
// order so pages are stable.
type Directory struct {
	mu           sync.RWMutex
	pageSize     int
	catchAll     string
	reportTotals bool
	users        []User
	courses      map[string]*Course
}

// NewDirectory creates an empty directory serving pages of pageSize.
func NewDirectory(pageSize int) *Directory {
	if pageSize < 1 {
		pageSize = cache.DefaultPageSize
	}
	return &Directory{
		pageSize: pageSize,
		catchAll: cache.DefaultCatchAllCategory,
		courses:  make(map[string]*Course),
	}
}

// NewDirectoryFrom loads snap into a new directory.
func NewDirectoryFrom(pageSize int, snap Snapshot) *Directory {
	d := NewDirectory(pageSize)
	for _, u := range snap.Users {
		d.AddUser(u)
	}
	for _, c := range snap.Courses {
		d.AddCourse(c)
	}
	return d
}

func (d *Directory) PageSize() int { return d.pageSize }

// AddUser stores u, assigning an ID when it has none.
func (d *Directory) AddUser(u User) User {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	d.mu.Lock()
	d.users = append(d.users, u)
	d.mu.Unlock()
	return u
}

// AddCourse stores c, assigning an ID when it has none.
func (d *Directory) AddCourse(c Course) Course {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := c
	cp.Faculty = append([]string(nil), c.Faculty...)
	cp.Students = append([]string(nil), c.Students...)
	d.mu.Lock()
	d.courses[c.ID] = &cp
	d.mu.Unlock()
	return cp
}

// Snapshot returns a copy of the whole directory.
func (d *Directory) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := Snapshot{Users: append([]User(nil), d.users...)}
	ids := make([]string, 0, len(d.courses))
	for id := range d.courses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap.Courses = append(snap.Courses, *d.courses[id])
	}
	return snap
}

// User returns the user with id.
func (d *Directory) User(id string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.userIndex(id)
	if i < 0 {
		return User{}, false
	}
	return d.users[i], true
}

// SearchUsers returns one page of users matching search and role, plus the
// total number of matches. An empty or catch-all role matches everyone.
func (d *Directory) SearchUsers(search, role string, page int) ([]User, int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matched []User
	for _, u := range d.users {
		if role != "" && role != d.catchAll && !strings.EqualFold(u.Role, role) {
			continue
		}
		if !matchesSearch(u, search) {
			continue
		}
		matched = append(matched, u)
	}
	return d.paginate(matched, page), len(matched)
}

// CourseMembers returns one page of a course's faculty or students.
func (d *Directory) CourseMembers(courseID, memberType, search string, page int) ([]User, int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.courses[courseID]
	if !ok {
		return nil, 0, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}
	ids := c.Students
	if strings.EqualFold(memberType, "faculty") {
		ids = c.Faculty
	}

	var matched []User
	for _, id := range ids {
		i := d.userIndex(id)
		if i < 0 || !matchesSearch(d.users[i], search) {
			continue
		}
		matched = append(matched, d.users[i])
	}
	return d.paginate(matched, page), len(matched), nil
}

// Course returns the course with id.
func (d *Directory) Course(id string) (CourseView, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.courses[id]
	if !ok {
		return CourseView{}, fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	return c.View(), nil
}

// CreateUser adds a user built from fields.
func (d *Directory) CreateUser(fields map[string]any) (User, error) {
	u := User{}
	applyUserFields(&u, fields)
	if u.Name == "" || u.Email == "" {
		return User{}, fmt.Errorf("name and email are required: %w", ErrInvalid)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return User{}, fmt.Errorf("email %s already registered: %w", u.Email, ErrConflict)
		}
	}
	u.ID = uuid.NewString()
	d.users = append(d.users, u)
	return u, nil
}

// UpdateUser applies fields to the user with id.
func (d *Directory) UpdateUser(id string, fields map[string]any) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.userIndex(id)
	if i < 0 {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	applyUserFields(&d.users[i], fields)
	return d.users[i], nil
}

// DeleteUser removes the user with id from the directory and every course.
func (d *Directory) DeleteUser(id string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.userIndex(id)
	if i < 0 {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	u := d.users[i]
	d.users = append(d.users[:i], d.users[i+1:]...)
	for _, c := range d.courses {
		c.Faculty = without(c.Faculty, id)
		c.Students = without(c.Students, id)
	}
	return u, nil
}

// Enroll adds users to a course as faculty or students. Users already
// enrolled are skipped.
func (d *Directory) Enroll(courseID, memberType string, userIDs []string) (CourseView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.courses[courseID]
	if !ok {
		return CourseView{}, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}
	for _, id := range userIDs {
		if d.userIndex(id) < 0 {
			return CourseView{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
	}

	target := &c.Students
	if strings.EqualFold(memberType, "faculty") {
		target = &c.Faculty
	}
	for _, id := range userIDs {
		if !contains(*target, id) {
			*target = append(*target, id)
		}
	}
	return c.View(), nil
}

func (d *Directory) userIndex(id string) int {
	for i, u := range d.users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func (d *Directory) paginate(users []User, page int) []User {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * d.pageSize
	if start >= len(users) {
		return []User{}
	}
	end := start + d.pageSize
	if end > len(users) {
		end = len(users)
	}
	return append([]User(nil), users[start:end]...)
}

func matchesSearch(u User, search string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(u.Name), search) ||
		strings.Contains(strings.ToLower(u.Email), search) ||
		strings.Contains(strings.ToLower(u.RollNumber), search)
}

func applyUserFields(u *User, fields map[string]any) {
	set := func(name string, dst *string) {
		if v, ok := fields[name]; ok {
			*dst = fmt.Sprint(v)
		}
	}
	set("name", &u.Name)
	set("email", &u.Email)
	set("role", &u.Role)
	set("phone", &u.Phone)
	set("rollNumber", &u.RollNumber)
	set("house", &u.House)
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
