package cache

// Resource kinds served by the admin API.
const (
	KindUsers         = "users"
	KindCourseMembers = "course-members"
	KindCourse        = "course"
)

// Filter parameter names used in keys.
const (
	ParamSearch     = "searchQuery"
	ParamRole       = "role"
	ParamMemberType = "memberType"
	ParamCourseID   = "courseId"
	ParamID         = "id"
)

// CourseKey is the detail key for one course.
func CourseKey(courseID string) (Key, error) {
	return BuildKey(KindCourse, map[string]string{ParamID: courseID}, 1)
}
