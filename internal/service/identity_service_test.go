package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/internal/repository"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
)

func TestTeacherLogin(t *testing.T) {
	h := newHarness(t)
	teacher := h.seedTeacher("Dr. X", "drx@monmouth.edu", "correct horse")

	grant, err := h.identity.TeacherLogin(context.Background(), dto.TeacherLoginRequest{Email: "DrX@Monmouth.edu", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, grant.Principal.ID)
	assert.Equal(t, models.RoleTeacher, grant.Principal.Role)
	assert.NotEmpty(t, grant.Token)
}

func TestCredentialFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t)
	h.seedTeacher("Dr. X", "drx@monmouth.edu", "correct horse")
	class := h.seedClass("t", "CS 101")
	team := h.seedTeam(class.ID, "Team 1")
	h.seedStudent("Ana", "S1", "S1", team)

	_, wrongPassword := h.identity.TeacherLogin(context.Background(), dto.TeacherLoginRequest{Email: "drx@monmouth.edu", Password: "nope"})
	_, unknownEmail := h.identity.TeacherLogin(context.Background(), dto.TeacherLoginRequest{Email: "ghost@monmouth.edu", Password: "nope"})
	_, wrongPasscode := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Ana", Passcode: "S2"})
	_, unknownStudent := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Nobody", Passcode: "S1"})

	for _, err := range []error{wrongPassword, unknownEmail, wrongPasscode, unknownStudent} {
		require.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrInvalidCredentials.Message, appErr.Message)
		assert.Equal(t, appErrors.ErrInvalidCredentials.Status, appErr.Status)
	}
}

func TestStudentLoginBindsDeviceOnFirstLogin(t *testing.T) {
	h := newHarness(t)
	class := h.seedClass("t", "CS 101")
	team := h.seedTeam(class.ID, "Team 1")
	student := h.seedStudent("Ana", "S1", "S1", team)

	result, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Ana", Passcode: "S1"})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.False(t, result.MultipleClasses())
	device := result.Session.DeviceToken
	require.NotEmpty(t, device)

	stored := h.db.student(student.ID)
	require.NotNil(t, stored.DeviceToken)
	assert.Equal(t, device, *stored.DeviceToken)
	assert.Equal(t, class.ID, result.Session.Principal.ClassID)
	assert.Equal(t, team.ID, result.Session.Principal.TeamID)

	again, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Ana", Passcode: "S1", DeviceToken: device})
	require.NoError(t, err)
	assert.Equal(t, device, again.Session.DeviceToken)
}

func TestStudentLoginRejectsOtherDevices(t *testing.T) {
	h := newHarness(t)
	class := h.seedClass("t", "CS 101")
	team := h.seedTeam(class.ID, "Team 1")
	h.seedStudent("Ana", "S1", "S1", team, withDevice("device-a"))

	for _, cookie := range []string{"", "device-b", "device-a-longer"} {
		_, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Ana", Passcode: "S1", DeviceToken: cookie})
		assert.ErrorIs(t, err, appErrors.ErrDeviceMismatch, "cookie %q", cookie)
	}
}

func TestExpiryIsCheckedBeforeDevice(t *testing.T) {
	h := newHarness(t)
	class := h.seedClass("t", "CS 101")
	team := h.seedTeam(class.ID, "Team 1")
	h.seedStudent("Ana", "S1", "S1", team, withDevice("device-a"), withAccessUntil(h.now.Add(-time.Minute)))

	_, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Ana", Passcode: "S1", DeviceToken: "device-b"})
	assert.ErrorIs(t, err, appErrors.ErrAccessExpired)
}

func TestMultiClassLoginRequiresSelection(t *testing.T) {
	h := newHarness(t)
	classA := h.seedClass("t", "Class A")
	classB := h.seedClass("t", "Class B")
	team1 := h.seedTeam(classA.ID, "Team 1")
	team2 := h.seedTeam(classB.ID, "Team 2")
	first := h.seedStudent("Mike Lee", "S123", "S123", team1)
	h.seedStudent("Mike Lee", "S123", "S123", team2)

	result, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Mike Lee", Passcode: "S123"})
	require.NoError(t, err)
	require.True(t, result.MultipleClasses())
	require.Nil(t, result.Session)
	candidates := result.Disambiguation.Candidates
	require.Len(t, candidates, 2)
	assert.Equal(t, first.ID, candidates[0].StudentID)
	assert.Equal(t, classA.ID, candidates[0].ClassID)
	assert.Equal(t, "Class A", candidates[0].ClassName)
	assert.Equal(t, team1.ID, candidates[0].TeamID)

	grant, err := h.identity.Select(context.Background(), dto.SelectClassRequest{
		Ticket:    result.Disambiguation.Ticket,
		StudentID: candidates[0].StudentID,
		ClassID:   candidates[0].ClassID,
		TeamID:    candidates[0].TeamID,
	})
	require.NoError(t, err)
	assert.Equal(t, classA.ID, grant.Principal.ClassID)
	assert.Equal(t, team1.ID, grant.Principal.TeamID)
	assert.NotEmpty(t, grant.DeviceToken)
	assert.True(t, h.db.student(first.ID).HasDevice())
}

func TestSelectOnlyAcceptsOfferedCandidates(t *testing.T) {
	h := newHarness(t)
	classA := h.seedClass("t", "Class A")
	classB := h.seedClass("t", "Class B")
	h.seedStudent("Mike Lee", "S123", "S123", h.seedTeam(classA.ID, "Team 1"))
	h.seedStudent("Mike Lee", "S123", "S123", h.seedTeam(classB.ID, "Team 2"))
	outsider := h.seedStudent("Zed", "S9", "S9", h.seedTeam(classB.ID, "Team 3"))

	result, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Mike Lee", Passcode: "S123"})
	require.NoError(t, err)

	_, err = h.identity.Select(context.Background(), dto.SelectClassRequest{Ticket: result.Disambiguation.Ticket, StudentID: outsider.ID})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = h.identity.Select(context.Background(), dto.SelectClassRequest{Ticket: result.Disambiguation.Ticket + "x", StudentID: result.Disambiguation.Candidates[0].StudentID})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	h.advance(10 * time.Minute)
	_, err = h.identity.Select(context.Background(), dto.SelectClassRequest{Ticket: result.Disambiguation.Ticket, StudentID: result.Disambiguation.Candidates[0].StudentID})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestMultiMatchOffersEveryEnrollment(t *testing.T) {
	h := newHarness(t)
	phone, laptop := deviceCookie("phone"), deviceCookie("laptop")
	classA := h.seedClass("t", "Class A")
	classB := h.seedClass("t", "Class B")
	classC := h.seedClass("t", "Class C")
	bound := h.seedStudent("Mike Lee", "S123", "S123", h.seedTeam(classA.ID, "Team 1"), withDevice(phone))
	open := h.seedStudent("Mike Lee", "S123", "S123", h.seedTeam(classB.ID, "Team 2"))
	lapsed := h.seedStudent("Mike Lee", "S123", "S123", h.seedTeam(classC.ID, "Team 3"), withAccessUntil(h.now.Add(-time.Minute)))

	result, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Mike Lee", Passcode: "S123", DeviceToken: laptop})
	require.NoError(t, err)
	require.True(t, result.MultipleClasses())
	require.Nil(t, result.Session)
	require.Len(t, result.Disambiguation.Candidates, 3)
	assert.Nil(t, h.db.student(open.ID).DeviceToken, "nothing is bound before a choice is made")

	pick := func(id string) error {
		_, err := h.identity.Select(context.Background(), dto.SelectClassRequest{Ticket: result.Disambiguation.Ticket, StudentID: id, DeviceToken: laptop})
		return err
	}
	assert.ErrorIs(t, pick(bound.ID), appErrors.ErrDeviceMismatch)
	assert.ErrorIs(t, pick(lapsed.ID), appErrors.ErrAccessExpired)
	require.NoError(t, pick(open.ID))
	require.NotNil(t, h.db.student(open.ID).DeviceToken)
	assert.Equal(t, laptop, *h.db.student(open.ID).DeviceToken)
	assert.Equal(t, phone, *h.db.student(bound.ID).DeviceToken)
}

func TestDeviceTokenReuseRequiresMintedShape(t *testing.T) {
	h := newHarness(t)
	class := h.seedClass("t", "CS 101")
	team := h.seedTeam(class.ID, "Team 1")

	malformed := []string{"phone", deviceCookie("phone") + "x", deviceCookie("phone")[:42] + "="}
	for i, cookie := range malformed {
		name, passcode := fmt.Sprintf("Student %d", i), fmt.Sprintf("S%d", i)
		h.seedStudent(name, passcode, passcode, team)
		result, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: name, Passcode: passcode, DeviceToken: cookie})
		require.NoError(t, err, "cookie %q", cookie)
		assert.NotEqual(t, cookie, result.Session.DeviceToken)
		assert.Len(t, result.Session.DeviceToken, 43)
	}

	shared := deviceCookie("shared")
	h.seedStudent("Bo", "S20", "S20", team)
	h.seedStudent("Cy", "S30", "S30", team)
	for name, passcode := range map[string]string{"Bo": "S20", "Cy": "S30"} {
		result, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: name, Passcode: passcode, DeviceToken: shared})
		require.NoError(t, err)
		assert.Equal(t, shared, result.Session.DeviceToken, "one device keeps one token across accounts")
	}
}

type racingStudents struct {
	memStudents
	winner string
}

func (r racingStudents) BindDevice(ctx context.Context, id, token string) (bool, error) {
	if _, err := r.memStudents.BindDevice(ctx, id, r.winner); err != nil {
		return false, err
	}
	return r.memStudents.BindDevice(ctx, id, token)
}

func TestLostDeviceRaceDefersToWinner(t *testing.T) {
	h := newHarness(t)
	h.identity.students = racingStudents{memStudents: memStudents{h.db}, winner: "winner-device"}
	class := h.seedClass("t", "CS 101")
	team := h.seedTeam(class.ID, "Team 1")
	h.seedStudent("Ana", "S1", "S1", team)
	h.seedStudent("Bo", "S2", "S2", team)

	_, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Ana", Passcode: "S1", DeviceToken: "loser-device"})
	assert.ErrorIs(t, err, appErrors.ErrDeviceMismatch)

	result, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Bo", Passcode: "S2", DeviceToken: "winner-device"})
	require.NoError(t, err)
	assert.Equal(t, "winner-device", result.Session.DeviceToken)
}

func TestGuestLoginOnlyMatchesGuests(t *testing.T) {
	h := newHarness(t)
	class := h.seedClass("t", "CS 101")
	guests := h.seedTeam(class.ID, models.GuestsTeamName)
	team := h.seedTeam(class.ID, "Team 1")
	h.seedStudent("Pat", "", "CS 101", guests)
	h.seedStudent("Sam", "S5", "CS 101", team)

	result, err := h.identity.GuestLogin(context.Background(), dto.GuestLoginRequest{Name: "Pat", Passcode: "CS 101"})
	require.NoError(t, err)
	assert.Equal(t, guests.ID, result.Session.Principal.TeamID)

	_, err = h.identity.GuestLogin(context.Background(), dto.GuestLoginRequest{Name: "Sam", Passcode: "CS 101"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestTeacherProxyCannotLogIn(t *testing.T) {
	h := newHarness(t)
	class := h.seedClass("t", "CS 101")
	teachers := h.seedTeam(class.ID, models.TeachersTeamName)
	h.seedStudent("Dr. X", models.ExternalIDTeacher, "teacher", teachers)

	_, err := h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Dr. X", Passcode: "teacher"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestJoinWindow(t *testing.T) {
	h := newHarness(t)
	teacher := h.seedTeacher("Dr. X", "drx@monmouth.edu", "pw")
	class := h.seedClass(teacher.ID, "CS 101")
	team := h.seedTeam(class.ID, "Team 1")

	link, err := h.tokens.Issue(context.Background(), teacher, class.ID)
	require.NoError(t, err)
	assert.True(t, h.now.Add(4*time.Hour).Equal(link.ExpiresAt))
	assert.Equal(t, "https://peer.example.edu/join/"+link.Token, link.Link)

	h.advance(3*time.Hour + 59*time.Minute)
	grant, err := h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Ana", ExternalID: "S1", TeamID: team.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, grant.DeviceToken)
	joined := h.db.student(grant.Principal.ID)
	require.NotNil(t, joined.AccessExpiresAt)
	assert.True(t, joined.AccessExpiresAt.Equal(link.ExpiresAt))
	assert.Equal(t, "S1", joined.ExternalID)
	assert.True(t, h.hasher.Verify("S1", joined.PasscodeHash))

	h.advance(2 * time.Minute)
	_, err = h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Bo", ExternalID: "S2", TeamID: team.ID})
	assert.ErrorIs(t, err, appErrors.ErrAccessExpired)

	_, err = h.identity.StudentLogin(context.Background(), dto.StudentLoginRequest{Name: "Ana", Passcode: "S1", DeviceToken: grant.DeviceToken})
	assert.ErrorIs(t, err, appErrors.ErrAccessExpired)
}

func TestJoinUnknownToken(t *testing.T) {
	h := newHarness(t)

	_, err := h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: "missing", Name: "Ana", IsGuest: true})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestJoinClaimsPreAddedRow(t *testing.T) {
	h := newHarness(t)
	teacher := h.seedTeacher("Dr. X", "drx@monmouth.edu", "pw")
	class := h.seedClass(teacher.ID, "CS 101")
	team := h.seedTeam(class.ID, "Team 1")
	row := h.seedStudent("Ana Smith", "S1", "S1", team, preAdded)
	h.seedStudent("Ana", "S7", "S7", team)

	link, err := h.tokens.Issue(context.Background(), teacher, class.ID)
	require.NoError(t, err)

	phone := deviceCookie("phone")
	grant, err := h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Ana", ExternalID: "S1", TeamID: team.ID, DeviceToken: phone})
	require.NoError(t, err)
	assert.Equal(t, row.ID, grant.Principal.ID)
	assert.Equal(t, "Ana (2)", grant.Principal.Name)
	assert.Equal(t, phone, grant.DeviceToken)

	claimed := h.db.student(row.ID)
	assert.Equal(t, "Ana (2)", claimed.Name)
	assert.True(t, claimed.AccessExpiresAt.Equal(link.ExpiresAt))
	assert.Len(t, h.db.studentsNamed("Ana"), 2, "no duplicate row inserted")

	again, err := h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Ana (2)", ExternalID: "S1", TeamID: team.ID, DeviceToken: phone})
	require.NoError(t, err)
	assert.Equal(t, "Ana (2)", again.Principal.Name, "rejoining under the same name keeps it")

	_, err = h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Ana", ExternalID: "S1", TeamID: team.ID, DeviceToken: deviceCookie("laptop")})
	assert.ErrorIs(t, err, appErrors.ErrDeviceMismatch)
}

func TestGuestJoinCreatesGuestsTeamAndUniqueName(t *testing.T) {
	h := newHarness(t)
	teacher := h.seedTeacher("Dr. X", "drx@monmouth.edu", "pw")
	class := h.seedClass(teacher.ID, "CS 101")
	link, err := h.tokens.Issue(context.Background(), teacher, class.ID)
	require.NoError(t, err)

	first, err := h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Visitor", IsGuest: true})
	require.NoError(t, err)
	second, err := h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Visitor", IsGuest: true})
	require.NoError(t, err)

	assert.Equal(t, "Visitor", first.Principal.Name)
	assert.Equal(t, "Visitor (2)", second.Principal.Name)
	assert.Equal(t, first.Principal.TeamID, second.Principal.TeamID)
	assert.Equal(t, 1, h.db.teamCount(class.ID, models.GuestsTeamName))

	guest := h.db.student(second.Principal.ID)
	assert.True(t, guest.IsGuest())
	assert.True(t, h.hasher.Verify("CS 101", guest.PasscodeHash))
}

func TestGuestJoinToClassWithLongName(t *testing.T) {
	h := newHarness(t)
	teacher := h.seedTeacher("Dr. X", "drx@monmouth.edu", "pw")
	name := strings.Repeat("Software Engineering Capstone ", 3)
	require.Greater(t, len(name), 72)
	class := h.seedClass(teacher.ID, name)
	link, err := h.tokens.Issue(context.Background(), teacher, class.ID)
	require.NoError(t, err)

	grant, err := h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Visitor", IsGuest: true})
	require.NoError(t, err)

	result, err := h.identity.GuestLogin(context.Background(), dto.GuestLoginRequest{Name: "Visitor", Passcode: name, DeviceToken: grant.DeviceToken})
	require.NoError(t, err)
	assert.Equal(t, grant.Principal.ID, result.Session.Principal.ID)

	_, err = h.identity.GuestLogin(context.Background(), dto.GuestLoginRequest{Name: "Visitor", Passcode: name[:72], DeviceToken: grant.DeviceToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestJoinRejectsReservedAndForeignTeams(t *testing.T) {
	h := newHarness(t)
	teacher := h.seedTeacher("Dr. X", "drx@monmouth.edu", "pw")
	class := h.seedClass(teacher.ID, "CS 101")
	other := h.seedClass(teacher.ID, "CS 102")
	guests := h.seedTeam(class.ID, models.GuestsTeamName)
	foreign := h.seedTeam(other.ID, "Team 9")
	link, err := h.tokens.Issue(context.Background(), teacher, class.ID)
	require.NoError(t, err)

	_, err = h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Ana", ExternalID: "S1", TeamID: guests.ID})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Ana", ExternalID: "S1", TeamID: foreign.ID})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = h.identity.JoinByToken(context.Background(), dto.JoinRequest{Token: link.Token, Name: "Ana", TeamID: foreign.ID})
	assert.ErrorIs(t, err, appErrors.ErrValidation, "student id is required for non-guests")
}

func TestTransientStoreFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.db.failOnce("teachers.find_by_email", fmt.Errorf("teachers.find_by_email: %w", repository.ErrTransient))

	_, err := h.identity.TeacherLogin(context.Background(), dto.TeacherLoginRequest{Email: "drx@monmouth.edu", Password: "pw"})
	require.Error(t, err)
	assert.True(t, appErrors.Retryable(err))
	assert.False(t, errors.Is(err, appErrors.ErrInvalidCredentials))
	assert.NotContains(t, appErrors.FromError(err).Message, "teachers")
}
